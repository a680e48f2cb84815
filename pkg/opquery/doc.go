// Package opquery provides types, interfaces, and helpers for binding a
// registry of HTTP API operations to a reactive query/mutation runtime.
//
// # Overview
//
// The opquery package defines the domain types (Registry, OperationInfo,
// CacheKey, ResolvedPath, parameter sources) and the interfaces for the
// bound API (QueryHandle, MutationHandle, Engine, Transport, Cache). A
// concrete implementation is provided by the opclient package, which wires
// configuration, transport, the execution engine, and cache storage. Most
// consumers should import opclient to construct an API and then interact
// with the handle interfaces exposed here.
//
// Getting an API
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/opquery-io/opquery/pkg/opclient"
//	  "github.com/opquery-io/opquery/pkg/opquery"
//	)
//
//	func example() {
//	  registry, err := opquery.NewRegistry(map[opquery.OperationID]opquery.OperationInfo{
//	    "listPets":  {Method: "GET", Path: "/pets"},
//	    "getPet":    {Method: "GET", Path: "/pets/{petId}"},
//	    "updatePet": {Method: "PATCH", Path: "/pets/{petId}"},
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  api, err := opclient.New(context.Background(), &opquery.Config{
//	    Registry: registry,
//	    BaseURL:  "https://api.example.com",
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  pet, err := api.Query("getPet", opquery.StaticParams(opquery.Params{"petId": "123"}), nil)
//	  if err != nil { log.Fatal(err) }
//	  defer pet.Close()
//	  _ = pet.Data()
//	}
//
// # Parameters and enablement
//
// Path parameters come from a Source, which may be a static map, a reactive
// cell, or an accessor function re-read on every reactive tick. A query stays
// disabled until every placeholder in its operation's path template resolves
// and any caller-supplied enabled condition holds; while disabled it never
// issues a request.
//
// # Cache keys and invalidation
//
// Cache keys are derived deterministically from the path template: literal
// segments in template order, then parameter values in placeholder order,
// with query parameters appended as a final sorted segment. After a mutation
// succeeds the binding layer writes the response body through to the cache
// and invalidates the sibling list operation by default; callers can widen,
// narrow, or suppress the fan-out per call.
//
// # Errors
//
// Configuration mistakes (unknown operation IDs, malformed templates,
// mutating with unresolved required parameters) fail fast with sentinel
// errors. Transport and HTTP failures surface through each handle's error
// cell and are represented by APIError; helpers such as IsNotFound and
// IsUnauthorized make it easy to branch on common cases. Cache orchestration
// failures are best-effort and never fail a mutation's own result.
package opquery
