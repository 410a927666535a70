package pgpool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "trackpool_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/trackpool_test?sslmode=disable"

	// порт открывается раньше, чем postgres принимает соединения
	var st *Storage
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func mustProfile(t *testing.T, st *Storage, role string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := st.UpsertProfile(context.Background(), models.Profile{
		ID: id, Email: id.String()[:8] + "@example.com", Name: "U " + id.String()[:4], Role: role,
	})
	require.NoError(t, err)
	return id
}

func numbers(prefix string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s := prefix
		d := []byte{byte('0' + i/10), byte('0' + i%10)}
		out = append(out, s+string(d))
	}
	return out
}

func countState(t *testing.T, st *Storage, state models.TrackingState) int64 {
	t.Helper()
	var n int64
	require.NoError(t, st.db.QueryRow(context.Background(),
		`SELECT count(*) FROM tracking_ids WHERE state = $1`, string(state)).Scan(&n))
	return n
}

func TestPGPool_LifecycleFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	userA := mustProfile(t, st, models.RoleUser)

	// пустая система: нули, а не ошибка
	stats, err := st.PoolStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Total)
	require.Empty(t, stats.Users)

	nums := numbers("94055362075652753764", 6)
	rep, err := st.IngestTrackingIDs(ctx, models.IngestBatch{
		Numbers: append(nums, nums[0]), Invalid: 1, TotalProvided: 8, UploadedBy: admin,
	})
	require.NoError(t, err)
	require.Equal(t, 6, rep.Inserted)
	require.Equal(t, 1, rep.Duplicate)
	require.Equal(t, 1, rep.Invalid)
	require.Equal(t, 8, rep.TotalProvided)

	// повторная загрузка того же номера: duplicate
	rep, err = st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: nums[:1], TotalProvided: 1, UploadedBy: admin})
	require.NoError(t, err)
	require.Equal(t, 0, rep.Inserted)
	require.Equal(t, 1, rep.Duplicate)

	// недостаточно: ничего не меняется
	_, err = st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: userA, AssignedBy: admin, Quantity: 7})
	var supply *models.InsufficientSupplyError
	require.ErrorAs(t, err, &supply)
	require.Equal(t, int64(6), supply.Available)
	require.Equal(t, int64(7), supply.Requested)
	require.Equal(t, int64(6), countState(t, st, models.TrackingStateAvailable))

	// неизвестный пользователь
	_, err = st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: uuid.New(), AssignedBy: admin, Quantity: 1})
	require.ErrorIs(t, err, models.ErrUnknownUser)

	// FIFO: самые старые
	arep, err := st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: userA, AssignedBy: admin, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, 4, arep.Assigned)
	require.Equal(t, nums[:4], arep.Numbers)

	a, err := st.GetAssignment(ctx, userA)
	require.NoError(t, err)
	require.Equal(t, int64(4), a.TotalAssigned)
	require.Zero(t, a.TotalUsed)
	require.NotNil(t, a.LastAssignedAt)

	labelID := uuid.New()
	used, err := st.ConsumeTrackingID(ctx, userA, labelID)
	require.NoError(t, err)
	require.Equal(t, nums[0], used.Number)
	require.Equal(t, models.TrackingStateUsed, used.State)
	require.NotNil(t, used.UsedInLabel)
	require.Equal(t, labelID, *used.UsedInLabel)

	// revoke больше, чем доступно: InsufficientAssigned, ничего не меняется
	_, err = st.RevokeTrackingIDs(ctx, models.RevokeRequest{TargetUser: userA, RevokedBy: admin, Quantity: 4})
	var assigned *models.InsufficientAssignedError
	require.ErrorAs(t, err, &assigned)
	require.Equal(t, int64(3), assigned.Assigned)
	require.Equal(t, int64(3), countState(t, st, models.TrackingStateAssigned))

	rrep, err := st.RevokeTrackingIDs(ctx, models.RevokeRequest{TargetUser: userA, RevokedBy: admin, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 2, rrep.Revoked)
	require.Equal(t, nums[1:3], rrep.Numbers)

	a, err = st.GetAssignment(ctx, userA)
	require.NoError(t, err)
	require.Equal(t, int64(2), a.TotalAssigned)
	require.Equal(t, int64(1), a.TotalUsed)
	require.Equal(t, int64(1), a.Available())

	stats, err = st.PoolStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(6), stats.Total)
	require.Equal(t, int64(4), stats.Available)
	require.Equal(t, int64(1), stats.Assigned)
	require.Equal(t, int64(1), stats.Used)
	require.Len(t, stats.Users, 1)
	require.Equal(t, userA, stats.Users[0].UserID)
	require.Equal(t, int64(1), stats.Users[0].Available)

	drift, err := st.LedgerDrift(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)

	audit, err := st.ListAudit(ctx, models.AuditFilter{Limit: 100})
	require.NoError(t, err)
	// 2 bulk_upload + 4 assign + 1 consume + 2 revoke
	require.Len(t, audit, 9)
	byAction := map[models.AuditAction]int{}
	for _, e := range audit {
		byAction[e.Action]++
	}
	require.Equal(t, 2, byAction[models.AuditActionBulkUpload])
	require.Equal(t, 4, byAction[models.AuditActionAssign])
	require.Equal(t, 1, byAction[models.AuditActionConsume])
	require.Equal(t, 2, byAction[models.AuditActionRevoke])

	onlyConsume, err := st.ListAudit(ctx, models.AuditFilter{Action: models.AuditActionConsume})
	require.NoError(t, err)
	require.Len(t, onlyConsume, 1)
	require.JSONEq(t, `{"label_id":"`+labelID.String()+`"}`, string(onlyConsume[0].Details))

	list, err := st.ListTrackingIDs(ctx, models.TrackingIDFilter{State: models.TrackingStateAvailable, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 4)
	for _, tr := range list {
		require.Nil(t, tr.AssignedTo)
		require.Nil(t, tr.AssignedAt)
	}
}

func TestPGPool_ConsumeNoneAndConcurrent(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	user := mustProfile(t, st, models.RoleUser)

	_, err := st.ConsumeTrackingID(ctx, user, uuid.New())
	require.ErrorIs(t, err, models.ErrNoAvailableTrackingID)

	_, err = st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("9405536207565275376", 1), TotalProvided: 1, UploadedBy: admin})
	require.NoError(t, err)
	_, err = st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: user, AssignedBy: admin, Quantity: 1})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	got := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := st.ConsumeTrackingID(ctx, user, uuid.New())
			if err == nil {
				got <- tr.Number
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	close(got)

	var ok, none int
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, models.ErrNoAvailableTrackingID)
			none++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, none)
	require.Len(t, got, 1)

	a, err := st.GetAssignment(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(1), a.TotalUsed)
}

func TestPGPool_ConcurrentAssignNoOverlap(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	users := []uuid.UUID{mustProfile(t, st, models.RoleUser), mustProfile(t, st, models.RoleUser), mustProfile(t, st, models.RoleUser)}

	_, err := st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("94001111222233334444", 30), TotalProvided: 30, UploadedBy: admin})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var reports []*models.AssignReport
	var errs []error
	for _, u := range users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: u, AssignedBy: admin, Quantity: 10})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			reports = append(reports, rep)
		}()
	}
	wg.Wait()

	// SKIP LOCKED может дать short claim; такой assign откатывается целиком
	for _, err := range errs {
		require.ErrorIs(t, err, models.ErrInsufficientSupply)
	}
	seen := map[string]uuid.UUID{}
	for _, rep := range reports {
		require.Equal(t, 10, rep.Assigned)
		for _, n := range rep.Numbers {
			prev, dup := seen[n]
			require.False(t, dup, "number %s assigned to %s and %s", n, prev, rep.TargetUser)
			seen[n] = rep.TargetUser
		}
	}

	drift, err := st.LedgerDrift(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)
	require.Equal(t, int64(len(seen)), countState(t, st, models.TrackingStateAssigned))
}

func TestPGPool_LabelsAndProfiles(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	user := mustProfile(t, st, models.RoleUser)

	p, err := st.GetProfile(ctx, user)
	require.NoError(t, err)
	require.Equal(t, models.RoleUser, p.Role)

	_, err = st.GetProfile(ctx, uuid.New())
	require.ErrorIs(t, err, models.ErrUnknownUser)

	_, err = st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("9405536207565275376", 1), TotalProvided: 1, UploadedBy: admin})
	require.NoError(t, err)
	_, err = st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: user, AssignedBy: admin, Quantity: 1})
	require.NoError(t, err)

	labelID := uuid.New()
	tr, err := st.ConsumeTrackingID(ctx, user, labelID)
	require.NoError(t, err)

	require.NoError(t, st.CreateLabel(ctx, &models.Label{
		ID:             labelID,
		UserID:         user,
		TrackingNumber: tr.Number,
		Sender:         models.Address{Name: "Shop", Street: "1 Main St", City: "Austin", State: "TX", Zip: "73301"},
		Recipient:      models.Address{Name: "Jane", Street: "2 Oak Ave", City: "Dallas", State: "TX", Zip: "75201"},
		Data:           []byte(`{"weight_oz":12}`),
		Status:         models.LabelStatusGenerated,
		CreatedAt:      time.Now(),
	}))

	labels, err := st.ListLabels(ctx, models.LabelFilter{UserID: &user})
	require.NoError(t, err)
	require.Len(t, labels, 1)
	require.Equal(t, tr.Number, labels[0].TrackingNumber)
	require.Equal(t, "Dallas", labels[0].Recipient.City)
	require.JSONEq(t, `{"weight_oz":12}`, string(labels[0].Data))

	require.ErrorIs(t, st.MarkLabelDownloaded(ctx, labelID, uuid.New()), models.ErrLabelNotFound)
	require.NoError(t, st.MarkLabelDownloaded(ctx, labelID, user))

	labels, err = st.ListLabels(ctx, models.LabelFilter{})
	require.NoError(t, err)
	require.Equal(t, models.LabelStatusDownloaded, labels[0].Status)
}

func TestPGPool_LedgerDriftDetected(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	user := mustProfile(t, st, models.RoleUser)

	_, err := st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("94055362075652753764", 2), TotalProvided: 2, UploadedBy: admin})
	require.NoError(t, err)
	_, err = st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: user, AssignedBy: admin, Quantity: 2})
	require.NoError(t, err)

	// ручная порча леджера в обход движка
	_, err = st.db.Exec(ctx, `UPDATE user_tracking_assignments SET total_assigned = 5 WHERE user_id = $1`, user)
	require.NoError(t, err)

	drift, err := st.LedgerDrift(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	require.Equal(t, user, drift[0].UserID)
	require.Equal(t, int64(5), drift[0].TotalAssigned)
	require.Equal(t, int64(2), drift[0].RowsAssigned)
	require.True(t, drift[0].HasLedgerRow)
}

func TestPGPool_AssignShortClaimReportsPoolCount(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	user := mustProfile(t, st, models.RoleUser)

	_, err := st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("94002222333344445555", 3), TotalProvided: 3, UploadedBy: admin})
	require.NoError(t, err)

	// чужая транзакция держит две самые старые строки
	other, err := st.db.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = other.Rollback(ctx) }()
	rows, err := other.Query(ctx, `SELECT id FROM tracking_ids WHERE state = 'available' ORDER BY created_at, id LIMIT 2 FOR UPDATE`)
	require.NoError(t, err)
	locked := 0
	for rows.Next() {
		locked++
	}
	require.NoError(t, rows.Err())
	require.Equal(t, 2, locked)

	_, err = st.AssignTrackingIDs(ctx, models.AssignRequest{TargetUser: user, AssignedBy: admin, Quantity: 3})
	require.ErrorIs(t, err, models.ErrInsufficientSupply)
	var supply *models.InsufficientSupplyError
	require.ErrorAs(t, err, &supply)
	require.Equal(t, int64(3), supply.Available)
	require.Equal(t, int64(3), supply.Requested)

	// откат целиком: ни строк, ни ledger
	require.Equal(t, int64(3), countState(t, st, models.TrackingStateAvailable))
	a, err := st.GetAssignment(ctx, user)
	require.NoError(t, err)
	require.Zero(t, a.TotalAssigned)
}

func TestPGPool_ExportCursorStableUnderIngest(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	admin := mustProfile(t, st, models.RoleAdmin)
	_, err := st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("94003333444455556666", 15), TotalProvided: 15, UploadedBy: admin})
	require.NoError(t, err)

	f := models.TrackingIDFilter{State: models.TrackingStateAvailable, Limit: 10}
	first, err := st.ListTrackingIDs(ctx, f)
	require.NoError(t, err)
	require.Len(t, first, 10)

	// новые номера между страницами: с offset вторая страница повторила бы первую
	_, err = st.IngestTrackingIDs(ctx, models.IngestBatch{Numbers: numbers("94007777888899990000", 5), TotalProvided: 5, UploadedBy: admin})
	require.NoError(t, err)

	last := first[len(first)-1]
	f.Before = &models.TrackingIDCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	second, err := st.ListTrackingIDs(ctx, f)
	require.NoError(t, err)
	require.Len(t, second, 5)

	seen := map[string]bool{}
	for _, tr := range append(first, second...) {
		require.False(t, seen[tr.Number], "number %s exported twice", tr.Number)
		seen[tr.Number] = true
		require.True(t, strings.HasPrefix(tr.Number, "94003333444455556666"))
	}
	require.Len(t, seen, 15)
}
