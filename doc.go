// Package matchcore is an embeddable semantic matching engine for
// candidate/job records: it embeds normalized record text into dense
// vectors, indexes them for cosine-similarity search with IVF-style
// partition probing, and ranks query hits by a weighted combination of
// vector similarity and structured field overlap.
//
// # Quick start
//
//	backend := hashing.New()                       // or gemini.New(...)
//	engine, err := matchcore.New(backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	_ = engine.Upsert(ctx, model.Record{
//	    ID:     "cand-1",
//	    Text:   "Senior Go engineer, distributed systems",
//	    Fields: map[string][]string{"skills": {"go", "sql"}},
//	})
//
//	resp, err := engine.Match(ctx, matchcore.MatchQuery{
//	    Text:           "backend engineer with Go experience",
//	    RequiredFields: map[string][]string{"skills": {"go"}},
//	    TopK:           10,
//	    Explain:        true,
//	})
//
// # Consistency model
//
// Writes serialize and commit atomically; queries read an immutable
// copy-on-write index state and never observe partial mutations. Re-upserting
// a record with unchanged text is a no-op; changed text replaces the vector
// atomically. Snapshots capture a consistent index+fields pair and restores
// are all-or-nothing.
//
// # Search accuracy
//
// A recall budget of 0 (the default) scans exhaustively and returns exact
// top-k. After Rebuild partitions the index, a positive budget probes that
// many partitions for sublinear approximate search.
package matchcore
