// Package client is the Go SDK for the Nexus Ledger HTTP API.
//
// A client signs every ledger request with the credentials it was built
// with, so callers deal in contract ids and arguments rather than signing
// bytes.
//
// # Connecting
//
// Load the key written by 'ledgerctl keygen' and point the client at a
// ledger server:
//
//	creds, err := client.LoadCertificateCredentials("alice", 1, "certs/alice/key.pem")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, err := client.New("http://localhost:8080", client.WithCredentials(creds))
//
// # Registering and executing a contract
//
//	err = c.RegisterCertificate(ctx, creds.Identity, certPEM)
//	err = c.RegisterContract(ctx, "transfer", "samples.transfer", nil, "")
//	res, err := c.Execute(ctx, "transfer", `{"from":"a","to":"b","amount":10}`)
//
// Execute generates a fresh nonce for each request. A request that loses a
// write conflict is retried when the client is built WithRetries.
//
// # Validating history
//
//	v, err := c.Validate(ctx, "a", 0, request.AgeUnbounded)
//	if !v.OK() {
//	    fmt.Println("tampered at age", v.Age, v.Status)
//	}
//
// Failed calls return a *status.Error carrying the ledger's status code:
//
//	if status.Is(err, status.ContractNotFound) { ... }
package client
