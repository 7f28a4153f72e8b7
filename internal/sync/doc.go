// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

/*
Package sync keeps the rating event store in step with the source platform.

Key Components:

  - Engine: walks one member's newest-first activity listing in full or
    incremental mode and upserts each page atomically with its checkpoint
  - Coordinator: owns a SyncRun across a cohort's members, decides the mode
    per member, dispatches members onto per-mode bounded worker pools and
    folds member outcomes into the run status
  - FeedUpdater: applies the newest rated entries from each member's RSS
    feed through the same natural-key upsert path

Member State Machine:

	queued -> fetching_page -> upserting -> continue | stop-seen | stop-exhausted | error

In incremental mode the engine stops at the first entry whose stored row
carries the identical (rating, liked, favorite) tuple. A stored row whose
facts differ is rewritten and the walk continues.

Checkpoints:

Each committed page advances the member checkpoint in the same transaction
as its events, so a crashed or cancelled member resumes at the page after
the last commit. A walk that finds nothing new commits nothing.

Cancellation:

Run cancellation is checked between pages; a page is either fully
committed or not at all.

Thread Safety:

Members of one run are independent and synced concurrently. Pages within
one member are always processed in fetch order.
*/
package sync
