// Package telegram wraps the Bot API the club talks to parents through:
// outbound notices with a bounded rolling log, and the long-poll inbound
// feed that links parent chats to students.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/storage/kvstore"
)

// Partitions owned by this service.
const (
	KeyLogs   = "chess_crm_telegram_logs"
	KeyOffset = "chess_crm_bot_offset"
)

// maxLogs bounds the rolling send log, most recent first.
const maxLogs = 50

type LogKind string

const (
	LogCheckIn   LogKind = "CHECKIN"
	LogAbsent    LogKind = "ABSENT"
	LogBroadcast LogKind = "BROADCAST"
	LogSystem    LogKind = "SYSTEM"
)

type Log struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	ChatID    string    `json:"chat_id"`
	StudentID string    `json:"student_id,omitempty"`
	Kind      LogKind   `json:"kind"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// Broadcast targets.
type TargetKind string

const (
	TargetAll     TargetKind = "all"
	TargetGroup   TargetKind = "group"
	TargetStudent TargetKind = "student"
)

type Service struct {
	conf    *core.Config
	repo    *club.Repository
	store   *kvstore.Store
	logger  core.Logger
	client  *http.Client
	ratings *club.Aggregator
	baseURL string // overridable in tests
}

var _ club.Notifier = (*Service)(nil)

func NewService(conf *core.Config, repo *club.Repository, logger core.Logger) *Service {
	return &Service{
		conf:   conf,
		repo:   repo,
		store:  repo.Store(),
		logger: logger,
		// the getUpdates call blocks server-side up to PollTimeout; allow
		// headroom instead of imposing a shorter client cut-off
		client:  &http.Client{Timeout: conf.Telegram.PollTimeout + 15*time.Second},
		ratings: club.NewAggregator(repo),
		baseURL: "https://api.telegram.org",
	}
}

func (s *Service) apiURL(method string) string {
	return s.baseURL + "/bot" + s.conf.Telegram.BotToken + "/" + method
}

// SendMessage delivers one message and appends the outcome to the rolling
// log. Failures are logged, never surfaced: messaging is fire-and-forget.
func (s *Service) SendMessage(chatID, text string, markup *InlineKeyboardMarkup, kind LogKind, studentID string) bool {
	body := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if markup != nil {
		body["reply_markup"] = markup
	}

	var ok bool
	var sendErr string
	raw, err := json.Marshal(body)
	if err == nil {
		var res apiResponse
		res, err = s.post("sendMessage", raw)
		ok = err == nil && res.OK
		if err != nil {
			sendErr = err.Error()
		} else if !res.OK {
			sendErr = fmt.Sprintf("%d: %s", res.ErrorCode, res.Description)
		}
	} else {
		sendErr = err.Error()
	}

	s.addLog(Log{
		ChatID:    chatID,
		StudentID: studentID,
		Kind:      kind,
		OK:        ok,
		Message:   truncate(text, 50),
		Error:     sendErr,
	})
	return ok
}

// StartPolling runs the inbound long-poll loop until ctx is cancelled. Each
// getUpdates call blocks server-side up to the configured interval and the
// next one is issued right away; errors back the loop off briefly.
func (s *Service) StartPolling(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.ProcessUpdates(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("bot polling", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
		}
	}
}

// ProcessUpdates issues one long-poll and handles every update it returns.
// The cursor is persisted before an update's side effects run, so a crash
// re-delivers nothing.
func (s *Service) ProcessUpdates(ctx context.Context) error {
	offset := s.offset()
	q := make(url.Values)
	q.Set("offset", strconv.FormatInt(offset+1, 10))
	q.Set("timeout", strconv.Itoa(int(s.conf.Telegram.PollTimeout/time.Second)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var res apiResponse
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("getUpdates: %d: %s", res.ErrorCode, res.Description)
	}

	var updates []Update
	if err = json.Unmarshal(res.Result, &updates); err != nil {
		return err
	}
	for _, update := range updates {
		if err = s.store.Set(KeyOffset, update.UpdateID); err != nil {
			return err
		}
		s.handleUpdate(update)
	}
	return nil
}

func (s *Service) handleUpdate(update Update) {
	switch {
	case update.CallbackQuery != nil:
		s.handleCallback(*update.CallbackQuery)
	case update.Message != nil:
		s.handleMessage(*update.Message)
	}
}

func (s *Service) handleMessage(msg Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if text == "/start" {
		s.SendMessage(chatID,
			"👋 <b>Welcome!</b>\n\nTo link your child, send their <b>student code</b> (for example: 1001):",
			nil, LogSystem, "")
		return
	}

	student, ok := s.repo.StudentByCode(text)
	if !ok {
		s.SendMessage(chatID,
			"☹️ <b>Student not found.</b>\n\nPlease double-check the code or contact the club staff.",
			nil, LogSystem, "")
		return
	}
	markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "✅ YES, CONFIRM", CallbackData: "LINK:" + student.ID},
		{Text: "❌ NO", CallbackData: "CANCEL"},
	}}}
	s.SendMessage(chatID,
		fmt.Sprintf("👤 <b>Student found:</b>\n\nName: %s\nCode: %s\n\nIs this your child?", student.FullName(), student.Code),
		markup, LogSystem, student.ID)
}

func (s *Service) handleCallback(cb CallbackQuery) {
	chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
	s.answerCallback(cb.ID)

	if cb.Data == "CANCEL" {
		s.SendMessage(chatID, "❌ Cancelled. You can send the student code again.", nil, LogSystem, "")
		return
	}
	if !strings.HasPrefix(cb.Data, "LINK:") {
		return
	}

	studentID := strings.TrimPrefix(cb.Data, "LINK:")
	student, ok := s.repo.StudentByID(studentID)
	if !ok {
		return
	}

	parents := s.repo.Parents()
	for _, p := range parents {
		if p.ChatID == chatID && p.StudentID == studentID {
			s.SendMessage(chatID, "⚠️ This student is already linked.", nil, LogSystem, "")
			return
		}
	}
	parents = append(parents, club.Parent{
		ID:        s.repo.GenerateID(),
		StudentID: studentID,
		ChatID:    chatID,
		Name:      strings.TrimSpace(cb.From.FirstName + " " + cb.From.LastName),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	if err := s.repo.SaveParents(parents); err != nil {
		s.logger.Error("linking parent", err)
		return
	}
	s.SendMessage(chatID,
		fmt.Sprintf("✅ <b>Linked!</b>\n\nYour child: <b>%s</b>\n\nAttendance and reward updates will arrive here.", student.FullName()),
		nil, LogSystem, studentID)
}

// NotifyAttendance tells every linked parent about a check-in, including the
// student's running monthly total (posted rewards plus pending coins).
func (s *Service) NotifyAttendance(studentID string, status club.Status, checkIn string, coins int) {
	student, ok := s.repo.StudentByID(studentID)
	if !ok {
		return
	}
	parents := s.linkedParents(func(p club.Parent) bool { return p.StudentID == studentID })
	if len(parents) == 0 {
		return
	}

	monthTotal := 0
	for _, row := range s.ratings.Leaderboard(club.WindowMonth, "") {
		if row.Student.ID == studentID {
			monthTotal = row.Total
			break
		}
	}

	emoji, label := "✅", "CHECKED IN"
	kind := LogCheckIn
	if status == club.StatusLate {
		emoji, label = "⚠️", "ARRIVED LATE"
	} else if status == club.StatusAbsent {
		emoji, label = "❌", "MISSED CLASS"
		kind = LogAbsent
	}

	msg := new(strings.Builder)
	msg.WriteString("<b>🔔 ATTENDANCE NOTICE</b>\n\n")
	fmt.Fprintf(msg, "👤 <b>Student:</b> %s\n", student.FullName())
	fmt.Fprintf(msg, "📊 <b>Status:</b> %s %s\n", emoji, label)
	if checkIn != "" {
		fmt.Fprintf(msg, "⏰ <b>Time:</b> %s\n", checkIn)
	}
	if status != club.StatusAbsent {
		fmt.Fprintf(msg, "🪙 <b>Coins earned today:</b> +%d\n", coins)
	}
	fmt.Fprintf(msg, "🏆 <b>Total this month:</b> %d\n\n📍 <b>Club:</b> %s", monthTotal, s.conf.AppName)

	for _, p := range parents {
		s.SendMessage(p.ChatID, msg.String(), nil, kind, studentID)
	}
}

// Broadcast sends a bulletin to the linked parents of the targeted students.
func (s *Service) Broadcast(target TargetKind, targetIDs []string, text string) (sent, failed int) {
	parents := s.linkedParents(nil)

	var chatIDs []string
	switch target {
	case TargetAll:
		for _, p := range parents {
			chatIDs = append(chatIDs, p.ChatID)
		}
	case TargetGroup:
		students := make(map[string]bool)
		for _, m := range s.repo.Members() {
			for _, gid := range targetIDs {
				if m.GroupID == gid {
					students[m.StudentID] = true
				}
			}
		}
		for _, p := range parents {
			if students[p.StudentID] {
				chatIDs = append(chatIDs, p.ChatID)
			}
		}
	case TargetStudent:
		for _, p := range parents {
			for _, sid := range targetIDs {
				if p.StudentID == sid {
					chatIDs = append(chatIDs, p.ChatID)
				}
			}
		}
	}

	seen := make(map[string]bool, len(chatIDs))
	for _, cid := range chatIDs {
		if seen[cid] {
			continue
		}
		seen[cid] = true
		if s.SendMessage(cid, "<b>📢 ANNOUNCEMENT</b>\n\n"+text, nil, LogBroadcast, "") {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// Logs returns the rolling send log, most recent first.
func (s *Service) Logs() []Log {
	out := []Log{}
	s.store.Get(KeyLogs, &out)
	return out
}

func (s *Service) linkedParents(keep func(club.Parent) bool) []club.Parent {
	out := []club.Parent{}
	for _, p := range s.repo.Parents() {
		if p.IsActive && (keep == nil || keep(p)) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) offset() int64 {
	var offset int64
	s.store.Get(KeyOffset, &offset)
	return offset
}

func (s *Service) addLog(entry Log) {
	entry.ID = s.store.GenerateID()
	entry.Time = time.Now().UTC()

	logs := append([]Log{entry}, s.Logs()...)
	if len(logs) > maxLogs {
		logs = logs[:maxLogs]
	}
	if err := s.store.Set(KeyLogs, logs); err != nil {
		s.logger.Warn("appending telegram log", err)
	}
}

func (s *Service) answerCallback(id string) {
	q := make(url.Values)
	q.Set("callback_query_id", id)
	resp, err := s.client.Get(s.apiURL("answerCallbackQuery") + "?" + q.Encode())
	if err != nil {
		s.logger.Debug("answering callback", err)
		return
	}
	_ = resp.Body.Close()
}

func (s *Service) post(method string, body []byte) (apiResponse, error) {
	resp, err := s.client.Post(s.apiURL(method), "application/json", bytes.NewReader(body))
	if err != nil {
		return apiResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var res apiResponse
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return apiResponse{}, err
	}
	return res, nil
}

// truncate caps s at n runes so a multi-byte message is never cut mid-rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
