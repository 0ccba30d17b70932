// Package batchsync syncs warehouse change records to the Batch.com profile API.
//
// A run reads either every pending change of a Snowflake stream or a whole
// table, maps each row to a profile update keyed by a custom_id column, and
// posts the updates in batches of at most 1000 with a pause between calls.
// Stream reads happen inside one transaction that is committed only when
// every record was accepted, so a failed run leaves the stream offset where
// it was and the next run retries the same rows.
//
// # Quick Start
//
//	batchsync stream \
//	    --project-key PROJ \
//	    --source-stream ANALYTICS.PUBLIC.USERS_STREAM \
//	    --id-column USER_ID \
//	    --date-columns SIGNUP_DATE \
//	    --url-columns HOMEPAGE
//
// Connection parameters come from --connection-parameters (a JSON object) or
// from SNOWFLAKE_* environment variables. Every flag can also be set with a
// BATCHSYNC_* variable or in a YAML file passed with --config.
//
// # Key Packages
//
//	internal/pipeline - Run orchestration: states, commit or rollback, summary
//	pkg/source        - Stream and table readers producing a Changeset
//	pkg/attributes    - Row to profile attribute mapping
//	pkg/batch         - Batch partitioning and call pacing
//	pkg/delivery      - Profile API client
//	pkg/credentials   - REST API key lookup
//	pkg/warehouse     - database/sql sessions for Snowflake and other drivers
//
// # Exit Status
//
// The summary of a run is printed to stdout and the process exits 0, even
// when records failed. Invalid flags or a warehouse that cannot be reached
// exit with status 1.
package batchsync
