package club

import (
	"io/ioutil"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/chessclub/core"
	emailsvc "github.com/trezcool/chessclub/services/email"
	"github.com/trezcool/chessclub/storage/kvstore"
)

var testConf = &core.Config{AppName: "ChessClub", TestMode: true, AdminEmail: "boss@club.test"}

func testLogger() core.Logger {
	return core.NewStdLogger(log.New(ioutil.Discard, "", 0))
}

func setup(t *testing.T) (*Repository, *Service) {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "crm.json"), testLogger())
	require.NoError(t, err)
	repo := NewRepository(store)
	svc := NewService(repo, emailsvc.NewConsoleServiceMock(testConf), testConf)
	return repo, svc
}

func createStudent(t *testing.T, svc *Service, code, first string, fee int) Student {
	t.Helper()
	s, err := svc.CreateStudent(NewStudent{
		Code:       code,
		FirstName:  first,
		LastName:   "Petrov",
		MonthlyFee: fee,
	})
	require.NoError(t, err)
	return s
}

func createGroup(t *testing.T, svc *Service, name string) Group {
	t.Helper()
	g, err := svc.CreateGroup(NewGroup{
		Name:      name,
		Weekdays:  []string{"Mo", "We"},
		StartTime: "16:00",
		EndTime:   "17:30",
	})
	require.NoError(t, err)
	return g
}

func enroll(t *testing.T, svc *Service, groupID string, studentIDs ...string) {
	t.Helper()
	for _, sid := range studentIDs {
		member, err := svc.ToggleMember(groupID, sid)
		require.NoError(t, err)
		require.True(t, member)
	}
}

func atDate(y int, m time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }
}
