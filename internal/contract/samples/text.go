package samples

import (
	"context"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jmerrifield20/NexusLedger/internal/contract"
)

// appendNote takes "<asset id>\n<line>" and appends the line to the asset.
func appendNote(ctx context.Context, env *contract.Env[string], arg string) (string, error) {
	id, line, ok := strings.Cut(arg, "\n")
	if !ok || id == "" {
		return "", contract.Contextualf(`argument must be "<asset id>\n<line>"`)
	}
	a, err := env.Ledger.Get(ctx, id)
	if err != nil {
		return "", err
	}
	text := line
	if a != nil && a.Data != "" {
		text = a.Data + "\n" + line
	}
	if err := env.Ledger.Put(ctx, id, text); err != nil {
		return "", err
	}
	return text, nil
}

type tags struct {
	AssetID string   `json:"asset_id,omitempty"`
	Tags    []string `json:"tags"`
}

// tagSet merges argument tags into the asset's sorted tag set.
func tagSet(ctx context.Context, env *contract.Env[contract.Document], arg contract.Document) (contract.Document, error) {
	var req tags
	if err := json.Unmarshal(arg, &req); err != nil {
		return nil, contract.Contextualf("argument: %v", err)
	}
	if req.AssetID == "" {
		return nil, contract.Contextualf("asset_id is required")
	}
	a, err := env.Ledger.Get(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	if a != nil {
		var cur tags
		if err := json.Unmarshal(a.Data, &cur); err != nil {
			return nil, err
		}
		for _, t := range cur.Tags {
			set[t] = true
		}
	}
	for _, t := range req.Tags {
		set[t] = true
	}
	merged := tags{Tags: make([]string, 0, len(set))}
	for t := range set {
		merged.Tags = append(merged.Tags, t)
	}
	sort.Strings(merged.Tags)

	doc, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if err := env.Ledger.Put(ctx, req.AssetID, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
