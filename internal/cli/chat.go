// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Reads lines with history and editing, sends them through the session
// controller and runs slash commands against the conversation store.
// Ctrl+C while a reply streams stops generation; Ctrl+C or Ctrl+D at the
// prompt exits.

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/diff"
	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/transport"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of input.
type LineReader interface {
	Prompt(prompt string) (string, error)
	PromptWithSuggestion(prompt, text string, pos int) (string, error)
	AppendHistory(item string)
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// HistoryPath returns the input history file under the config directory.
func HistoryPath() string {
	return filepath.Join(config.ConfigDir(), "chat_history")
}

// NewChatCLI creates a ChatCLI and loads history from historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	cli := &ChatCLI{
		line:        line,
		historyFile: historyFile,
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	return c.line.Prompt(prompt)
}

// PromptWithSuggestion reads a line prefilled with text.
func (c *ChatCLI) PromptWithSuggestion(prompt, text string, pos int) (string, error) {
	return c.line.PromptWithSuggestion(prompt, text, pos)
}

// AppendHistory records a line for arrow-key recall.
func (c *ChatCLI) AppendHistory(item string) {
	c.line.AppendHistory(item)
}

// SaveHistory persists command history to file (mode 0600).
func (c *ChatCLI) SaveHistory() error {
	var buf bytes.Buffer
	if _, err := c.line.WriteHistory(&buf); err != nil {
		return err
	}
	return util.AtomicWriteFileWithDir(c.historyFile, buf.Bytes(), 0600, 0700)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() error {
	err := c.SaveHistory()
	if cerr := c.line.Close(); err == nil {
		err = cerr
	}
	return err
}

// =============================================================================
// REPL
// =============================================================================

// Controller is the session surface the REPL drives.
type Controller interface {
	Send(ctx context.Context, text string) (session.Result, error)
	Regenerate(ctx context.Context, id int64) (session.Result, error)
	Edit(id int64) (string, error)
	Cancel()
	Model() string
	SetModel(name string)
	Temperature() float64
	SetTemperature(t float64)
	Status() session.Status
}

// ChannelStatus reports the event channel for /status and restarts it for
// /reconnect.
type ChannelStatus interface {
	State() transport.State
	Exhausted() bool
	QueueLen() int
	Online()
}

// REPL is the interactive chat loop.
type REPL struct {
	ctrl    Controller
	store   *conversation.Store
	in      LineReader
	out     io.Writer
	logger  zerolog.Logger
	quiet   bool
	version string
	channel ChannelStatus

	// pending prefills the next prompt after /edit.
	pending string
}

// REPLOption configures a REPL.
type REPLOption func(*REPL)

// WithQuiet suppresses the banner and per-turn stats.
func WithQuiet(q bool) REPLOption {
	return func(r *REPL) { r.quiet = q }
}

// WithServerVersion records the model server version for /status.
func WithServerVersion(v string) REPLOption {
	return func(r *REPL) { r.version = v }
}

// WithChannelStatus reports the event channel in /status.
func WithChannelStatus(ch ChannelStatus) REPLOption {
	return func(r *REPL) { r.channel = ch }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) REPLOption {
	return func(r *REPL) { r.logger = l }
}

// NewREPL creates a REPL reading from in and writing to out.
func NewREPL(ctrl Controller, store *conversation.Store, in LineReader, out io.Writer, opts ...REPLOption) *REPL {
	r := &REPL{
		ctrl:   ctrl,
		store:  store,
		in:     in,
		out:    out,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads and executes lines until the user quits, input ends or ctx is
// done. An interrupt signal cancels the reply in progress.
func (r *REPL) Run(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	go func() {
		for {
			select {
			case <-sig:
				r.ctrl.Cancel()
			case <-ctx.Done():
				return
			}
		}
	}()

	if !r.quiet {
		r.printWelcome()
	}

	for ctx.Err() == nil {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				r.printExitSummary()
				return nil
			}
			return err
		}

		quit, err := r.Execute(ctx, line)
		if err != nil {
			DisplayError(r.out, err)
		}
		if quit {
			r.printExitSummary()
			return nil
		}
	}
	return nil
}

func (r *REPL) readLine() (string, error) {
	prompt := promptStyle.Render("chat> ")

	var (
		line string
		err  error
	)
	if r.pending != "" {
		text := r.pending
		r.pending = ""
		line, err = r.in.PromptWithSuggestion(prompt, text, -1)
	} else {
		line, err = r.in.Prompt(prompt)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		r.in.AppendHistory(line)
	}
	return line, nil
}

// Execute runs one input line. It reports whether the REPL should exit.
func (r *REPL) Execute(ctx context.Context, line string) (bool, error) {
	line = norm.NFC.String(strings.TrimSpace(line))
	if line == "" {
		return false, nil
	}

	// "//text" sends "/text" as a message.
	if strings.HasPrefix(line, "//") {
		return false, r.send(ctx, line[1:])
	}
	if strings.HasPrefix(line, "/") {
		cmd, err := ParseSlash(line)
		if err != nil {
			return false, err
		}
		return r.dispatch(ctx, cmd)
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return true, nil
	}
	return false, r.send(ctx, line)
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

func (r *REPL) send(ctx context.Context, text string) error {
	res, err := r.ctrl.Send(ctx, text)
	return r.report(res, err)
}

// report prints turn stats. Request failures and cancellations were
// already shown by the notifier.
func (r *REPL) report(res session.Result, err error) error {
	switch {
	case errors.Is(err, session.ErrRequestFailed):
		return nil
	case errors.Is(err, session.ErrNoModelSelected):
		return fmt.Errorf("%w: choose one with /model NAME", err)
	case err != nil:
		return err
	}

	if res.Ignored {
		fmt.Fprintln(r.out, warningStyle.Render("[Nothing to regenerate from]"))
		return nil
	}
	if res.State == session.StateCompleted && !r.quiet {
		fmt.Fprintln(r.out, infoStyle.Render(turnStats(r.ctrl.Model(), res)))
	}
	return nil
}

func turnStats(modelName string, res session.Result) string {
	parts := []string{modelName}
	if res.CompletionTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", res.CompletionTokens))
	}
	if res.TokensPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", res.TokensPerSecond))
	}
	parts = append(parts, res.Duration.Round(100*time.Millisecond).String())
	return strings.Join(parts, " · ")
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (r *REPL) dispatch(ctx context.Context, cmd SlashCommand) (bool, error) {
	switch cmd.Name {
	case "/help":
		r.printHelp()
	case "/new":
		return false, r.cmdNew(ctx)
	case "/list":
		r.printList()
	case "/switch":
		return false, r.cmdSwitch(cmd)
	case "/delete":
		return false, r.cmdDelete(ctx, cmd)
	case "/rename":
		return false, r.cmdRename(ctx, cmd)
	case "/clear":
		return false, r.cmdClear(ctx)
	case "/history":
		r.printHistory()
	case "/regen":
		return false, r.cmdRegen(ctx, cmd)
	case "/edit":
		return false, r.cmdEdit(cmd)
	case "/version":
		return false, r.cmdVersion(cmd)
	case "/diff":
		return false, r.cmdDiff(cmd)
	case "/model":
		r.cmdModel(cmd)
	case "/temp":
		return false, r.cmdTemp(cmd)
	case "/export":
		return false, r.cmdExport(cmd)
	case "/status":
		r.printStatus()
	case "/reconnect":
		return false, r.cmdReconnect()
	case "/quit":
		return true, nil
	}
	return false, nil
}

func (r *REPL) cmdNew(ctx context.Context) error {
	if _, err := r.store.CreateConversation(ctx); err != nil {
		return err
	}
	r.ok("New conversation")
	return nil
}

// conversationAt resolves a /list position.
func (r *REPL) conversationAt(cmd SlashCommand) (*model.Conversation, error) {
	if len(cmd.Args) == 0 {
		return nil, NewValidationErrorWithExample("conversation number", "", "required", cmd.Name+" 2")
	}
	list := r.store.List()
	idx, err := parsePosition(cmd.Args[0], len(list), "conversation")
	if err != nil {
		return nil, err
	}
	return list[idx], nil
}

func (r *REPL) cmdSwitch(cmd SlashCommand) error {
	conv, err := r.conversationAt(cmd)
	if err != nil {
		return err
	}
	return r.store.SwitchConversation(conv.ID)
}

func (r *REPL) cmdDelete(ctx context.Context, cmd SlashCommand) error {
	if len(cmd.Args) == 1 && strings.EqualFold(cmd.Args[0], "all") {
		n := len(r.store.List())
		if err := r.store.DeleteAll(ctx); err != nil {
			return err
		}
		r.ok(fmt.Sprintf("Deleted %d conversation(s)", n))
		return nil
	}
	conv, err := r.conversationAt(cmd)
	if err != nil {
		return err
	}
	if err := r.store.DeleteConversation(ctx, conv.ID); err != nil {
		return err
	}
	r.ok(fmt.Sprintf("Deleted %q", conv.Title))
	return nil
}

func (r *REPL) cmdRename(ctx context.Context, cmd SlashCommand) error {
	if cmd.Text == "" {
		return NewValidationErrorWithExample("title", "", "required", "/rename Trip planning")
	}
	if err := r.store.Rename(ctx, r.store.ActiveID(), cmd.Text); err != nil {
		return err
	}
	r.ok("Renamed")
	return nil
}

func (r *REPL) cmdClear(ctx context.Context) error {
	if err := r.store.Clear(ctx); err != nil {
		return err
	}
	r.ok("Conversation cleared")
	return nil
}

// messageAt resolves a /history position, or the last message with role
// when no position is given.
func (r *REPL) messageAt(cmd SlashCommand, role model.Role) (model.Message, error) {
	msgs := r.store.Messages()
	if len(cmd.Args) > 0 {
		idx, err := parsePosition(cmd.Args[0], len(msgs), "message")
		if err != nil {
			return model.Message{}, err
		}
		return msgs[idx], nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], nil
		}
	}
	return model.Message{}, NewNotFoundError(strings.ToLower(role.DisplayName())+" message", "last")
}

func (r *REPL) cmdRegen(ctx context.Context, cmd SlashCommand) error {
	msg, err := r.messageAt(cmd, model.RoleAssistant)
	if err != nil {
		return err
	}
	res, err := r.ctrl.Regenerate(ctx, msg.ID())
	return r.report(res, err)
}

func (r *REPL) cmdEdit(cmd SlashCommand) error {
	msg, err := r.messageAt(cmd, model.RoleUser)
	if err != nil {
		return err
	}
	content, err := r.ctrl.Edit(msg.ID())
	if err != nil {
		return err
	}
	r.pending = content
	fmt.Fprintln(r.out, infoStyle.Render("[Editing: change the text and press Enter to resend]"))
	return nil
}

func (r *REPL) cmdVersion(cmd SlashCommand) error {
	if len(cmd.Args) == 0 {
		return NewValidationErrorWithExample("message number", "", "required", "/version 2 live")
	}
	msgs := r.store.Messages()
	idx, err := parsePosition(cmd.Args[0], len(msgs), "message")
	if err != nil {
		return err
	}
	msg := msgs[idx]

	if len(cmd.Args) == 1 {
		fmt.Fprintf(r.out, "%s message %d has %d version(s): live", infoStyle.Render("[Versions]"), idx+1, msg.VersionCount())
		for i := range msg.History {
			fmt.Fprintf(r.out, ", %d", i)
		}
		fmt.Fprintln(r.out)
		return nil
	}

	v, err := conversation.ParseVersion(cmd.Args[1])
	if err != nil {
		return NewValidationError("version", cmd.Args[1], `want "live" or an index`)
	}
	if _, err := r.store.SelectVersion(msg.ID(), v); err != nil {
		return err
	}
	r.ok("Showing version " + v.String())
	return nil
}

func (r *REPL) cmdDiff(cmd SlashCommand) error {
	if len(cmd.Args) == 0 {
		return NewValidationErrorWithExample("message number", "", "required", "/diff 2")
	}
	msgs := r.store.Messages()
	idx, err := parsePosition(cmd.Args[0], len(msgs), "message")
	if err != nil {
		return err
	}
	msg := msgs[idx]
	if len(msg.History) == 0 {
		fmt.Fprintf(r.out, "%s message %d has a single version\n", infoStyle.Render("[Diff]"), idx+1)
		return nil
	}

	from, to := conversation.VersionAt(len(msg.History)-1), conversation.Live
	for i, arg := range cmd.Args[1:min(len(cmd.Args), 3)] {
		v, err := conversation.ParseVersion(arg)
		if err != nil {
			return NewValidationError("version", arg, `want "live" or an index`)
		}
		if i == 0 {
			from = v
		} else {
			to = v
		}
	}

	oldText, err := conversation.ContentAt(msg, from)
	if err != nil {
		return err
	}
	newText, err := conversation.ContentAt(msg, to)
	if err != nil {
		return err
	}

	d := diff.Compare(versionLabel(from), versionLabel(to), oldText, newText)
	fmt.Fprintf(r.out, "%s %s\n", infoStyle.Render("[Diff]"), d.Summary())
	if d.Identical() {
		return nil
	}
	for _, line := range strings.Split(strings.TrimSuffix(diff.Format(d), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			fmt.Fprintln(r.out, infoStyle.Render(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(r.out, commandStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(r.out, errorStyle.Render(line))
		default:
			fmt.Fprintln(r.out, line)
		}
	}
	return nil
}

func versionLabel(v conversation.Version) string {
	if v.IsLive() {
		return "live"
	}
	return "history " + v.String()
}

func (r *REPL) cmdModel(cmd SlashCommand) {
	if len(cmd.Args) == 0 {
		current := r.ctrl.Model()
		if current == "" {
			current = "(none)"
		}
		fmt.Fprintf(r.out, "%s Current model: %s\n", infoStyle.Render("[Model]"), commandStyle.Render(current))
		return
	}
	r.ctrl.SetModel(cmd.Args[0])
	r.ok("Switched to model: " + cmd.Args[0])
}

func (r *REPL) cmdTemp(cmd SlashCommand) error {
	if len(cmd.Args) == 0 {
		fmt.Fprintf(r.out, "%s %.2f\n", infoStyle.Render("[Temperature]"), r.ctrl.Temperature())
		return nil
	}
	t, err := strconv.ParseFloat(cmd.Args[0], 64)
	if err != nil || t < 0 || t > 2 {
		return NewValidationErrorWithExample("temperature", cmd.Args[0], "want a number from 0 to 2", "/temp 0.7")
	}
	r.ctrl.SetTemperature(t)
	r.ok(fmt.Sprintf("Temperature set to %.2f", t))
	return nil
}

func (r *REPL) cmdExport(cmd SlashCommand) error {
	if cmd.Text == "" {
		data, err := r.store.Export(r.store.ActiveID())
		if err != nil {
			return err
		}
		r.out.Write(data)
		fmt.Fprintln(r.out)
		return nil
	}

	doc, err := r.store.Document(r.store.ActiveID())
	if err != nil {
		return err
	}
	path, err := export.WriteFile(doc, cmd.Text, export.DefaultOptions())
	if err != nil {
		return &CommandError{Command: "/export", Reason: "export failed", Err: err}
	}
	r.logger.Info().Str("path", path).Int("messages", len(doc.Messages)).Msg("conversation exported")
	r.ok("Exported to " + path)
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (r *REPL) ok(text string) {
	fmt.Fprintln(r.out, commandStyle.Render("["+text+"]"))
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, titleStyle.Render("rigrun-chat"))
	fmt.Fprintln(r.out, separator(30))

	current := r.ctrl.Model()
	if current == "" {
		current = warningStyle.Render("none (use /model NAME)")
	} else {
		current = commandStyle.Render(current)
	}
	fmt.Fprintf(r.out, "%s %s\n", infoStyle.Render("Model:"), current)
	if badge := offline.StatusBadge(); badge != "" {
		fmt.Fprintf(r.out, "%s %s\n", infoStyle.Render("Mode:"), warningStyle.Render(badge+" localhost only"))
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, titleStyle.Render("Available Commands"))
	fmt.Fprintln(r.out, separator(20))
	fmt.Fprint(r.out, slashHelpText())
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, infoStyle.Render("Ctrl+C stops a reply; at the prompt it exits. Start a message with // to send a leading slash."))
}

func (r *REPL) printList() {
	list := r.store.List()
	active := r.store.ActiveID()
	if len(list) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("[No conversations]"))
		return
	}
	for i, conv := range list {
		marker := " "
		if conv.ID == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %2d. %s %s\n",
			marker,
			i+1,
			valueStyle.Render(runewidth.Truncate(conv.Title, 40, "...")),
			infoStyle.Render(fmt.Sprintf("(%d messages, %s)", len(conv.Messages), conv.CreatedAt.Format("2006-01-02 15:04"))))
	}
}

func (r *REPL) printHistory() {
	msgs := r.store.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("[Empty conversation]"))
		return
	}
	for i, msg := range msgs {
		label := msg.Role.DisplayName()
		if n := msg.VersionCount(); n > 1 {
			label += fmt.Sprintf(" [%d versions]", n)
		}
		fmt.Fprintf(r.out, "%3d. %s %s\n", i+1, labelStyle.Render(label), msg.Preview(60))
	}
}

func (r *REPL) printStatus() {
	st := r.ctrl.Status()

	row := func(label, value string) {
		fmt.Fprintf(r.out, "  %s %s\n", labelStyle.Render(label), valueStyle.Render(value))
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, titleStyle.Render("Status"))
	fmt.Fprintln(r.out, separator(20))

	modelName := st.Model
	if modelName == "" {
		modelName = "(none)"
	}
	row("Model:", modelName)
	row("Temperature:", fmt.Sprintf("%.2f", st.Temperature))
	if st.MaxContext > 0 {
		row("Context:", strconv.Itoa(st.MaxContext))
	}
	row("State:", st.State.String())
	row("Turns:", fmt.Sprintf("%d (%d completed, %d stopped, %d failed)",
		st.Stats.Turns, st.Stats.Completed, st.Stats.Cancelled, st.Stats.Failed))
	row("Uptime:", session.FormatDuration(st.Uptime))
	if r.version != "" {
		row("Ollama:", r.version)
	}

	if conv := r.store.Active(); conv != nil {
		row("Conversation:", fmt.Sprintf("%s (%d messages)", runewidth.Truncate(conv.Title, 40, "..."), len(conv.Messages)))
	}
	if r.channel != nil {
		state := r.channel.State().String()
		if r.channel.Exhausted() {
			state = "offline (reconnect exhausted)"
		}
		if q := r.channel.QueueLen(); q > 0 {
			state += fmt.Sprintf(", %d queued", q)
		}
		row("Events:", state)
	}
	if badge := offline.StatusBadge(); badge != "" {
		row("Mode:", badge)
	}
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdReconnect() error {
	if r.channel == nil {
		return &CommandError{Command: "/reconnect", Reason: "no event channel configured (set transport.url)"}
	}
	switch r.channel.State() {
	case transport.StateOpen, transport.StateConnecting:
		fmt.Fprintln(r.out, infoStyle.Render("[Event channel already "+r.channel.State().String()+"]"))
		return nil
	}
	r.channel.Online()
	state := r.channel.State().String()
	if r.channel.Exhausted() {
		state = "offline"
	}
	r.ok("Event channel: " + state)
	return nil
}

func (r *REPL) printExitSummary() {
	st := r.ctrl.Status()
	if st.Stats.Turns == 0 {
		fmt.Fprintln(r.out, infoStyle.Render("Goodbye!"))
		return
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, titleStyle.Render("Session Summary"))
	fmt.Fprintln(r.out, separator(15))
	fmt.Fprintf(r.out, "  %s %d (%d completed, %d stopped, %d failed)\n",
		infoStyle.Render("Turns:"), st.Stats.Turns, st.Stats.Completed, st.Stats.Cancelled, st.Stats.Failed)
	fmt.Fprintf(r.out, "  %s %s\n", infoStyle.Render("Duration:"), session.FormatDuration(st.Uptime))
	fmt.Fprintln(r.out)
}
