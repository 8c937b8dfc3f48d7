// Package model defines the shared data types exchanged between the matching
// engine's components: input records, embeddings, ranked match results and
// drift snapshots.
package model
