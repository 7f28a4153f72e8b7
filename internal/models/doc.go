// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

/*
Package models defines the data structures shared across Cinecohort.

The models fall into three groups:

 1. Event store models (source of truth):
    - Account: an external user identity on the film-logging platform
    - Film: a canonical film keyed by its external slug
    - RatingEvent: one (account, film) fact with rating, like and favorite flags

 2. Cohort and synchronization models:
    - Cohort, CohortMember: named account groupings discovered from a seed
    - SyncRun, RunMember: one synchronization attempt and its per-member outcome
    - MemberCheckpoint: the resumability anchor for a member's pagination

 3. Derived models (always recomputable from the event store):
    - CohortFilmStat: per-film aggregates for a cohort
    - RankingResult: one strategy's ranked snapshot row
    - RankingInsight: percentile, z-score and label rows for a scoped slice

Derived rows are never edited in place. They are replaced wholesale by the
aggregation, ranking and insight passes.

Usage Example:

	event := models.RatingEvent{
	    AccountID:  acct.ID,
	    FilmID:     film.ID,
	    Rating:     models.Float64Ptr(4.5),
	    Liked:      true,
	    ObservedAt: time.Now().UTC(),
	}
*/
package models
