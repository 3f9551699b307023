package store

const reportColumns = `id, seq, period_year, period_month, status, artifact_key, claimed_at, created_at, updated_at`

const queryInsertReport = `
INSERT INTO reports (id, period_year, period_month, status, created_at, updated_at)
VALUES ($1, $2, $3, 'PENDING', $4, $4)
ON CONFLICT (period_year, period_month) DO NOTHING
RETURNING ` + reportColumns

const queryGetReport = `
SELECT ` + reportColumns + `
FROM reports
WHERE id = $1
`

const queryGetReportByPeriod = `
SELECT ` + reportColumns + `
FROM reports
WHERE period_year = $1 AND period_month = $2
`

const queryListReports = `
SELECT ` + reportColumns + `
FROM reports
ORDER BY period_year DESC, period_month DESC
`

// The subselect takes the row lock; SKIP LOCKED makes racing claimants move
// past it instead of waiting, and the outer status guard re-checks under the lock.
const queryClaimOldestPending = `
UPDATE reports
SET status = 'INPROGRESS', claimed_at = NOW(), updated_at = NOW()
WHERE id = (
    SELECT id FROM reports
    WHERE status = 'PENDING'
    ORDER BY created_at ASC, seq ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
  AND status = 'PENDING'
RETURNING ` + reportColumns

const queryCompleteReport = `
UPDATE reports
SET status = 'COMPLETE', artifact_key = $2, updated_at = NOW()
WHERE id = $1
  AND status = 'INPROGRESS'
RETURNING ` + reportColumns

const queryFailReport = `
UPDATE reports
SET status = 'ERROR', updated_at = NOW()
WHERE id = $1
  AND status = 'INPROGRESS'
RETURNING ` + reportColumns

const queryRequeueReport = `
UPDATE reports
SET status = 'PENDING', artifact_key = NULL, claimed_at = NULL, updated_at = NOW()
WHERE id = $1
  AND status IN ('COMPLETE', 'ERROR')
RETURNING ` + reportColumns

const queryFailStale = `
WITH stale AS (
    SELECT id FROM reports
    WHERE status = 'INPROGRESS'
      AND claimed_at < $1
    ORDER BY claimed_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE reports
SET status = 'ERROR', updated_at = NOW()
FROM stale
WHERE reports.id = stale.id
RETURNING reports.id
`

const queryCountPending = `
SELECT COUNT(*) FROM reports WHERE status = 'PENDING'
`

const queryActivitiesBetween = `
SELECT ts, category, amount::float8, unit, kg_co2e::float8, note
FROM activities
WHERE ts >= $1 AND ts <= $2
ORDER BY ts ASC, id ASC
`

const queryCountActivitiesBetween = `
SELECT COUNT(*) FROM activities WHERE ts >= $1 AND ts <= $2
`
