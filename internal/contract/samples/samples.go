// Package samples holds the demo contracts and functions the server ships
// in its default catalogs.
package samples

import (
	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/function"
)

// Contract binary names.
const (
	Put           = "samples.put"
	Get           = "samples.get"
	Double        = "samples.double"
	CreateAccount = "samples.create-account"
	Transfer      = "samples.transfer"
	Payroll       = "samples.payroll"
	AppendNote    = "samples.append-note"
	TagSet        = "samples.tag-set"
	LegacyPut     = "samples.legacy-put"
)

// Function binary names.
const (
	AuditLog = "samples.audit-log"
	Counter  = "samples.counter"
)

// RegisterContracts adds every sample contract to c.
func RegisterContracts(c *contract.Catalog) {
	c.MustAdd(Put, contract.Static(contract.BindObject(contract.Func[contract.Object](put))))
	c.MustAdd(Get, contract.Static(contract.BindObject(contract.Func[contract.Object](get))))
	c.MustAdd(Double, contract.Static(contract.BindObject(contract.Func[contract.Object](double))))
	c.MustAdd(CreateAccount, contract.Static(contract.BindObject(contract.Func[contract.Object](createAccount))))
	c.MustAdd(Transfer, newTransfer)
	c.MustAdd(Payroll, contract.Static(contract.BindObject(contract.Func[contract.Object](payroll))))
	c.MustAdd(AppendNote, contract.Static(contract.BindString(contract.Func[string](appendNote))))
	c.MustAdd(TagSet, contract.Static(contract.BindDocument(contract.Func[contract.Document](tagSet))))
	c.MustAdd(LegacyPut, contract.Static(contract.BindLegacy(contract.Func[contract.Object](legacyPut))))
}

// RegisterFunctions adds every sample function to c.
func RegisterFunctions(c *function.Catalog) {
	c.MustAdd(AuditLog, newAuditLog)
	c.MustAdd(Counter, func([]byte) (function.Function, error) { return function.Func(counter), nil })
}

// Catalogs returns fresh catalogs holding the samples.
func Catalogs() (*contract.Catalog, *function.Catalog) {
	cc, fc := contract.NewCatalog(), function.NewCatalog()
	RegisterContracts(cc)
	RegisterFunctions(fc)
	return cc, fc
}
