package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voiceorb/pkg/api"
	"voiceorb/pkg/gateway"
	"voiceorb/pkg/host"
	"voiceorb/pkg/utils"
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// TelegramChannel serves the widget conversation over a Telegram bot. Every
// chat owns a Host running a text-chat session; photos and documents become
// attachments of that session.
type TelegramChannel struct {
	config       TelegramConfig               // Auth credentials
	bot          botAPI                       // Underlying Telegram SDK client
	transport    *http.Transport              // Long-polling transport, closed on Stop
	fileEndpoint string                       // Download URL template (token, file path)
	messageLimit int                          // Maximum character count per single message bubble
	mediaGroups  map[string]*mediaGroupBuffer // Buffer for grouping multiple files sent together
	chats        map[int64]*chat              // Conversation per chat
	httpClient   *http.Client                 // Client for downloading remote media from Telegram
	gw           gateway.ChannelContext       // Source of hosts
	mu           sync.Mutex                   // Protects concurrent access to internal buffers
	stopCtx      context.Context              // Context used to abort the long-polling loop
	stopCancel   context.CancelFunc           // Function to trigger the abort
	wg           sync.WaitGroup               // Poller and chat workers
	polled       chan struct{}                // Closed when the long-polling loop returns
	pollErr      error                        // Why polling gave up, nil after Stop
}

// fileRef identifies a file attached to a Telegram message.
type fileRef struct {
	id   string
	name string
	mime string
}

// inbound is one unit of work for a chat: a command, a text, files, or a mix.
type inbound struct {
	text  string
	files []fileRef
}

// mediaGroupBuffer aggregates messages sharing a MediaGroupID so an album
// is delivered as a single send.
type mediaGroupBuffer struct {
	chatID  int64       // Target chat
	content string      // Aggregated caption text
	files   []fileRef   // Collection of file identifiers
	timer   *time.Timer // Debounce timer for finishing the group
}

// chatBuffer bounds the queued work and the queued replies of one chat.
const chatBuffer = 16

// chat is the conversation of one Telegram chat. Replies are queued on
// outbox so session observers never wait on the Bot API.
type chat struct {
	id     int64
	host   *host.Host
	inbox  chan inbound
	outbox chan string
	fresh  bool // greeted, no message processed yet
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int, downloadTimeout time.Duration) (*TelegramChannel, error) {
	t := newTelegramChannel(cfg, nil, msgLimit, downloadTimeout)

	// Tying the dialer to stopCtx aborts the active long poll on Stop, so a
	// restarted bot does not hit a 409 Conflict.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			mergedCtx, mergedCancel := context.WithCancel(dialCtx)
			go func() {
				select {
				case <-t.stopCtx.Done():
					mergedCancel()
				case <-mergedCtx.Done():
				}
			}()
			return dialer.DialContext(mergedCtx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	botHTTPClient := &http.Client{Timeout: 75 * time.Second, Transport: transport}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		t.stopCancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	t.bot = bot
	t.transport = transport
	return t, nil
}

func newTelegramChannel(cfg TelegramConfig, bot botAPI, msgLimit int, downloadTimeout time.Duration) *TelegramChannel {
	if msgLimit <= 0 {
		msgLimit = 4000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		fileEndpoint: tgbotapi.FileEndpoint,
		messageLimit: msgLimit,
		mediaGroups:  make(map[string]*mediaGroupBuffer),
		chats:        make(map[int64]*chat),
		httpClient:   &http.Client{Timeout: downloadTimeout},
		stopCtx:      ctx,
		stopCancel:   cancel,
		polled:       make(chan struct{}),
	}
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start launches the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx gateway.ChannelContext) error {
	t.mu.Lock()
	t.gw = ctx
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.polled)
		if err := t.poll(); err != nil {
			t.mu.Lock()
			t.pollErr = err
			t.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until long polling ends. It reports a rejected bot token; a
// Stop ends it with nil.
func (t *TelegramChannel) Wait() error {
	<-t.polled
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pollErr
}

// poll fetches updates until Stop. Transient failures are retried; a
// rejected token ends polling since no retry can succeed.
func (t *TelegramChannel) poll() error {
	offset := 0
	for {
		select {
		case <-t.stopCtx.Done():
			return nil
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = 60

		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
				return fmt.Errorf("telegram rejected the bot token: %w", err)
			}
			select {
			case <-t.stopCtx.Done():
				return nil
			case <-time.After(3 * time.Second):
				slog.Debug("Failed to get telegram updates", "error", err)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			if update.Message != nil {
				t.dispatch(update.Message)
			}
		}
	}
}

// dispatch turns a message into work for its chat. Album parts are held back
// until the album is complete.
func (t *TelegramChannel) dispatch(msg *tgbotapi.Message) {
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	var files []fileRef
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		files = append(files, fileRef{id: photo.FileID, name: "photo_" + photo.FileUniqueID + ".jpg", mime: "image/jpeg"})
	}
	if msg.Document != nil {
		files = append(files, fileRef{id: msg.Document.FileID, name: msg.Document.FileName, mime: msg.Document.MimeType})
	}

	if msg.MediaGroupID != "" {
		t.handleMediaGroup(msg.MediaGroupID, msg.Chat.ID, content, files)
		return
	}
	if content == "" && len(files) == 0 {
		return
	}
	t.enqueue(msg.Chat.ID, inbound{text: content, files: files})
}

func (t *TelegramChannel) handleMediaGroup(groupID string, chatID int64, text string, files []fileRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if ok {
		if text != "" {
			if buf.content != "" {
				buf.content += "\n" + text
			} else {
				buf.content = text
			}
		}
		buf.files = append(buf.files, files...)
		buf.timer.Reset(time.Second)
		return
	}

	buf = &mediaGroupBuffer{chatID: chatID, content: text, files: files}
	t.mediaGroups[groupID] = buf
	// Flush after 1s of silence to allow more incoming media
	buf.timer = time.AfterFunc(time.Second, func() {
		t.mu.Lock()
		finalBuf, exists := t.mediaGroups[groupID]
		delete(t.mediaGroups, groupID)
		t.mu.Unlock()
		if !exists {
			return
		}
		slog.Info("MediaGroup collected", "group", groupID, "files", len(finalBuf.files), "content_len", len(finalBuf.content))
		t.enqueue(finalBuf.chatID, inbound{text: finalBuf.content, files: finalBuf.files})
	})
}

func (t *TelegramChannel) enqueue(chatID int64, in inbound) {
	c, err := t.chatFor(chatID)
	if err != nil {
		slog.Error("Failed to open telegram conversation", "chat_id", chatID, "error", err)
		return
	}
	select {
	case c.inbox <- in:
	default:
		slog.Warn("Telegram chat inbox full, dropping message", "chat_id", chatID)
		t.queue(c, "I'm still working on your previous messages. Please try again in a moment.")
	}
}

// chatFor returns the conversation of chatID, opening it on first use.
func (t *TelegramChannel) chatFor(chatID int64) (*chat, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.chats[chatID]; ok {
		return c, nil
	}
	if t.gw == nil || t.stopCtx.Err() != nil {
		return nil, fmt.Errorf("telegram channel not running")
	}
	outbox := make(chan string, chatBuffer)
	h, err := t.gw.NewHost(gateway.HostOptions{
		Surface:     "telegram",
		Observer:    t.observer(chatID, outbox),
		DefaultMode: host.ModeTextChat,
	})
	if err != nil {
		return nil, err
	}
	c := &chat{id: chatID, host: h, inbox: make(chan inbound, chatBuffer), outbox: outbox, fresh: true}
	t.chats[chatID] = c

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.work(c)
	}()
	go func() {
		defer t.wg.Done()
		t.deliver(c)
	}()
	return c, nil
}

// observer queues assistant and system entries of a chat's sessions.
func (t *TelegramChannel) observer(chatID int64, outbox chan<- string) api.SessionObserver {
	return api.ObserverFuncs{
		Entry: func(_ string, e api.TranscriptEntry) {
			if e.Role == api.RoleUser {
				return
			}
			select {
			case outbox <- e.Content:
			default:
				slog.Warn("Telegram outbox full, dropping reply", "chat_id", chatID)
			}
		},
	}
}

func (t *TelegramChannel) work(c *chat) {
	for {
		select {
		case <-t.stopCtx.Done():
			return
		case in := <-c.inbox:
			t.process(c, in)
			c.fresh = false
		}
	}
}

func (t *TelegramChannel) deliver(c *chat) {
	for {
		select {
		case <-t.stopCtx.Done():
			return
		case text := <-c.outbox:
			t.sendText(c.id, text)
		}
	}
}

func (t *TelegramChannel) queue(c *chat, text string) {
	select {
	case c.outbox <- text:
	default:
		slog.Warn("Telegram outbox full, dropping reply", "chat_id", c.id)
	}
}

func (t *TelegramChannel) process(c *chat, in inbound) {
	text := strings.TrimSpace(in.text)
	if isCommand(text, "/start", "/reset") {
		if c.fresh {
			return
		}
		// A new session greets the chat through the observer
		if _, err := c.host.Activate(host.ModeTextChat); err != nil {
			slog.Error("Failed to reset telegram conversation", "chat_id", c.id, "error", err)
		}
		return
	}

	s, ok := c.host.Text()
	if !ok {
		return
	}

	if len(in.files) > 0 {
		files := t.downloadAll(in.files)
		for _, err := range s.AddFiles(files...) {
			if err != nil {
				t.queue(c, "Error: "+api.UserMessage(err))
			}
		}
		if text == "" {
			if n := len(s.Pending()); n > 0 {
				t.queue(c, fmt.Sprintf("%d file(s) attached. Send a message to deliver them.", n))
			}
			return
		}
	}

	stopTyping := t.typing(c.id)
	defer stopTyping()
	if _, err := s.Send(text); err != nil {
		// Delivery failures are already in the transcript
		slog.Debug("Telegram send ended with error", "chat_id", c.id, "error", err)
	}
}

// typing shows the typing indicator until the returned func is called.
func (t *TelegramChannel) typing(chatID int64) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
				slog.Debug("Typing action failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-done:
				return
			case <-t.stopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (t *TelegramChannel) downloadAll(refs []fileRef) []api.FileAttachment {
	var wg sync.WaitGroup
	files := make([]*api.FileAttachment, len(refs))
	for i, ref := range refs {
		wg.Add(1)
		go func(index int, ref fileRef) {
			defer wg.Done()
			file, err := t.download(ref)
			if err != nil {
				slog.Error("Telegram file download failed", "file_id", ref.id, "error", err)
				return
			}
			files[index] = file
		}(i, ref)
	}
	wg.Wait()

	out := make([]api.FileAttachment, 0, len(files))
	for _, f := range files {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// download fetches a file into memory. The size limit of the session
// validator applies afterwards.
func (t *TelegramChannel) download(ref fileRef) (*api.FileAttachment, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: ref.id})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	fileURL := fmt.Sprintf(t.fileEndpoint, t.config.Token, fileInfo.FilePath)
	resp, err := t.httpClient.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}

	name := ref.name
	if name == "" {
		name = filepath.Base(fileInfo.FilePath)
	}
	mimeType := ref.mime
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if mimeType == "" {
		mimeType = utils.DetectMime(name, data)
	}
	return &api.FileAttachment{Filename: name, MimeType: mimeType, Data: data}, nil
}

// Stop aborts polling, stops the chat workers and closes every conversation.
func (t *TelegramChannel) Stop() error {
	t.stopCancel()
	if t.transport != nil {
		t.transport.CloseIdleConnections()
	}

	t.mu.Lock()
	chats := t.chats
	t.chats = make(map[int64]*chat)
	for _, buf := range t.mediaGroups {
		buf.timer.Stop()
	}
	t.mediaGroups = make(map[string]*mediaGroupBuffer)
	gw := t.gw
	t.mu.Unlock()

	// Destroying the sessions unblocks workers waiting on a webhook
	for _, c := range chats {
		if gw != nil {
			gw.ReleaseHost(c.host)
		}
	}
	t.wg.Wait()
	return nil
}

// sendText delivers message to a chat, split at the message limit.
func (t *TelegramChannel) sendText(chatID int64, message string) {
	for i, part := range splitMessage(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			slog.Error("Telegram send failed", "chat_id", chatID, "part", i, "error", err)
			return
		}
	}
}

// isCommand reports whether text starts with one of the bot commands,
// optionally addressed to the bot ("/start@orb_bot").
func isCommand(text string, commands ...string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	for _, c := range commands {
		if cmd == c {
			return true
		}
	}
	return false
}

// splitMessage cuts message into chunks of at most limit runes.
func splitMessage(message string, limit int) []string {
	msgRunes := []rune(message)
	if len(msgRunes) <= limit {
		return []string{message}
	}
	var parts []string
	for i := 0; i < len(msgRunes); i += limit {
		end := min(i+limit, len(msgRunes))
		parts = append(parts, string(msgRunes[i:end]))
	}
	return parts
}
