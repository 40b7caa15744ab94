package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/storage/kvstore"
)

// fakeBotAPI records sendMessage calls and serves queued updates once.
type fakeBotAPI struct {
	mu      sync.Mutex
	sent    []map[string]interface{}
	updates []Update
	server  *httptest.Server
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := new(fakeBotAPI)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch filepath.Base(r.URL.Path) {
		case "sendMessage":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.sent = append(f.sent, body)
			f.mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{}}`)
		case "getUpdates":
			f.mu.Lock()
			raw, _ := json.Marshal(f.updates)
			f.updates = nil
			f.mu.Unlock()
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, raw)
		default:
			fmt.Fprint(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) sentMessages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.sent...)
}

func setup(t *testing.T) (*Service, *club.Repository, *fakeBotAPI) {
	t.Helper()
	store, err := kvstore.Open(
		filepath.Join(t.TempDir(), "crm.json"),
		core.NewStdLogger(log.New(ioutil.Discard, "", 0)),
	)
	require.NoError(t, err)
	repo := club.NewRepository(store)

	conf := &core.Config{AppName: "ChessClub", TestMode: true}
	conf.Telegram.BotToken = "hunter2"
	conf.Telegram.PollTimeout = time.Second

	api := newFakeBotAPI(t)
	svc := NewService(conf, repo, core.NewStdLogger(log.New(ioutil.Discard, "", 0)))
	svc.baseURL = api.server.URL
	return svc, repo, api
}

func addStudent(t *testing.T, repo *club.Repository, code, first string) club.Student {
	t.Helper()
	s := club.Student{ID: repo.GenerateID(), Code: code, FirstName: first, LastName: "Petrov", IsActive: true}
	require.NoError(t, repo.SaveStudents(append(repo.Students(), s)))
	return s
}

func linkParent(t *testing.T, repo *club.Repository, studentID, chatID string) {
	t.Helper()
	require.NoError(t, repo.SaveParents(append(repo.Parents(), club.Parent{
		ID: repo.GenerateID(), StudentID: studentID, ChatID: chatID, IsActive: true,
	})))
}

func TestService_SendMessageLogs(t *testing.T) {
	svc, _, api := setup(t)

	ok := svc.SendMessage("42", "hello there", nil, LogSystem, "")
	assert.True(t, ok)
	require.Len(t, api.sentMessages(), 1)
	assert.Equal(t, "42", api.sentMessages()[0]["chat_id"])

	logs := svc.Logs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].OK)
	assert.Equal(t, LogSystem, logs[0].Kind)
	assert.Equal(t, "hello there", logs[0].Message)
}

func TestService_SendMessageLogTruncatesOnRunes(t *testing.T) {
	svc, _, _ := setup(t)

	long := strings.Repeat("🔔", 60)
	svc.SendMessage("42", long, nil, LogSystem, "")

	logs := svc.Logs()
	require.Len(t, logs, 1)
	assert.True(t, utf8.ValidString(logs[0].Message))
	assert.Equal(t, strings.Repeat("🔔", 50)+"...", logs[0].Message)
}

func TestService_logIsBoundedAndNewestFirst(t *testing.T) {
	svc, _, _ := setup(t)

	for i := 0; i < maxLogs+10; i++ {
		svc.addLog(Log{ChatID: fmt.Sprint(i), Kind: LogSystem, OK: true})
	}

	logs := svc.Logs()
	require.Len(t, logs, maxLogs)
	assert.Equal(t, fmt.Sprint(maxLogs+9), logs[0].ChatID) // newest first
}

func TestService_linkingFlow(t *testing.T) {
	svc, repo, api := setup(t)
	anna := addStudent(t, repo, "1001", "Anna")

	// unknown code
	svc.handleMessage(Message{Chat: Chat{ID: 42}, Text: "9999"})
	sent := api.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0]["text"], "not found")

	// known code offers the confirm keyboard
	svc.handleMessage(Message{Chat: Chat{ID: 42}, Text: "1001"})
	sent = api.sentMessages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1]["text"], "Anna Petrov")
	assert.NotNil(t, sent[1]["reply_markup"])

	// confirming links the parent
	svc.handleCallback(CallbackQuery{
		ID:      "cb1",
		From:    User{FirstName: "Ivan"},
		Message: Message{Chat: Chat{ID: 42}},
		Data:    "LINK:" + anna.ID,
	})
	parents := repo.Parents()
	require.Len(t, parents, 1)
	assert.Equal(t, anna.ID, parents[0].StudentID)
	assert.Equal(t, "42", parents[0].ChatID)
	assert.True(t, parents[0].IsActive)

	// confirming again does not duplicate
	svc.handleCallback(CallbackQuery{
		ID:      "cb2",
		Message: Message{Chat: Chat{ID: 42}},
		Data:    "LINK:" + anna.ID,
	})
	assert.Len(t, repo.Parents(), 1)

	// cancel never links
	svc.handleCallback(CallbackQuery{
		ID:      "cb3",
		Message: Message{Chat: Chat{ID: 77}},
		Data:    "CANCEL",
	})
	assert.Len(t, repo.Parents(), 1)
}

func TestService_ProcessUpdatesAdvancesOffset(t *testing.T) {
	svc, _, api := setup(t)
	api.updates = []Update{
		{UpdateID: 7, Message: &Message{Chat: Chat{ID: 42}, Text: "/start"}},
		{UpdateID: 8, Message: &Message{Chat: Chat{ID: 42}, Text: ""}},
	}

	require.NoError(t, svc.ProcessUpdates(context.Background()))
	assert.Equal(t, int64(8), svc.offset())

	// the welcome for /start went out
	require.NotEmpty(t, api.sentMessages())
	assert.Contains(t, api.sentMessages()[0]["text"], "Welcome")
}

func TestService_NotifyAttendance(t *testing.T) {
	svc, repo, api := setup(t)
	anna := addStudent(t, repo, "1001", "Anna")
	linkParent(t, repo, anna.ID, "42")
	linkParent(t, repo, anna.ID, "43")

	svc.NotifyAttendance(anna.ID, club.StatusLate, "16:05", 3)

	sent := api.sentMessages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0]["text"], "ARRIVED LATE")
	assert.Contains(t, sent[0]["text"], "+3")

	// no parents linked: nothing sent
	boris := addStudent(t, repo, "1002", "Boris")
	svc.NotifyAttendance(boris.ID, club.StatusPresent, "16:00", 5)
	assert.Len(t, api.sentMessages(), 2)
}

func TestService_Broadcast(t *testing.T) {
	svc, repo, api := setup(t)
	anna := addStudent(t, repo, "1001", "Anna")
	boris := addStudent(t, repo, "1002", "Boris")
	linkParent(t, repo, anna.ID, "42")
	linkParent(t, repo, boris.ID, "43")
	linkParent(t, repo, boris.ID, "43") // same chat twice

	sent, failed := svc.Broadcast(TargetAll, nil, "closed on Friday")
	assert.Equal(t, 2, sent) // deduped by chat
	assert.Zero(t, failed)

	sent, _ = svc.Broadcast(TargetStudent, []string{anna.ID}, "see me")
	assert.Equal(t, 1, sent)
	msgs := api.sentMessages()
	assert.Equal(t, "42", msgs[len(msgs)-1]["chat_id"])
}
