// Package fusion merges and diversifies ranked candidate lists.
//
// # Reciprocal Rank Fusion
//
// Fuse combines a vector-ranked list and a keyword-ranked list using ranks
// only, never raw scores:
//
//	score(d) = Σ weight_c / (k + rank_c(d))
//
// A candidate missing from a channel contributes nothing from it. Candidates
// found by both channels are multiplied by BothBoost, then by the
// CategoryBoost entry for their category, if any. The result is sorted by
// score; ties keep the order in which candidates were first seen, so the
// same inputs always produce the same output.
//
// FuseLists generalises this to any number of lists, which is how expanded
// query variants are folded in with a reduced weight.
//
// # Maximal Marginal Relevance
//
// SelectMMR greedily picks k of the fetchK most relevant candidates,
// scoring each remaining candidate as
//
//	λ·relevance − (1−λ)·max cosine similarity to anything already selected
//
// λ = 1 returns plain relevance order; λ = 0 maximises diversity.
// Embeddings are stripped from the returned candidates.
package fusion
