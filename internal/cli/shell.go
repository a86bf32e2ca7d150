// Package cli is the interactive terminal front end.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/fluxytools/chatai/internal/auth"
	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/chat"
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/render"
	"github.com/fluxytools/chatai/internal/services"
	"github.com/fluxytools/chatai/internal/sessions"
)

const prompt = "chatai> "

// ErrQuit is returned by Execute when the user asks to leave
var ErrQuit = errors.New("quit")

// Prompter reads lines from the user. *liner.State satisfies it.
type Prompter interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
}

// Shell dispatches slash commands and chat input to the services
type Shell struct {
	svc      *services.Services
	renderer *render.Renderer
	in       Prompter
	out      io.Writer
	now      func() time.Time
}

// NewShell creates a shell writing to out
func NewShell(svc *services.Services, renderer *render.Renderer, in Prompter, out io.Writer) *Shell {
	return &Shell{
		svc:      svc,
		renderer: renderer,
		in:       in,
		out:      out,
		now:      time.Now,
	}
}

// Run starts the read-eval loop on the terminal until EOF, Ctrl+C or /quit.
// Input history is kept in historyFile when it is set.
func Run(ctx context.Context, svc *services.Services, renderer *render.Renderer, historyFile string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer saveHistory(line, historyFile)
	}

	sh := NewShell(svc, renderer, line, os.Stdout)
	sh.greet()

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			// liner.ErrPromptAborted on Ctrl+C, io.EOF on Ctrl+D
			fmt.Fprintln(sh.out)
			return nil
		}
		if strings.TrimSpace(input) != "" && !strings.HasPrefix(input, "/key") && !strings.HasPrefix(input, "/login") {
			line.AppendHistory(input)
		}

		if err := sh.Execute(ctx, input); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(sh.out, "[Error] %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func saveHistory(line *liner.State, path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

func (s *Shell) greet() {
	if user, ok := s.svc.Auth.CurrentUser(); ok {
		fmt.Fprintf(s.out, "Welcome back, %s. Type /help for commands.\n", user.DisplayName())
		return
	}
	fmt.Fprintln(s.out, "Sign in with /login <email> [name] to start chatting. Type /help for commands.")
}

// Execute runs one line of input
func (s *Shell) Execute(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if !strings.HasPrefix(input, "/") {
		return s.send(ctx, input)
	}

	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()
		return nil
	case "/quit", "/q", "/exit":
		return ErrQuit
	case "/login":
		return s.login(ctx, args)
	case "/logout":
		return s.logout(ctx)
	case "/whoami":
		return s.whoami()
	case "/new", "/n":
		return s.newSession(ctx)
	case "/sessions", "/ls":
		s.listSessions()
		return nil
	case "/select":
		return s.selectSession(args)
	case "/delete", "/rm":
		return s.deleteSession(ctx, args)
	case "/history":
		return s.history()
	case "/models":
		s.listModels()
		return nil
	case "/model", "/m":
		return s.selectModel(args)
	case "/keys":
		s.listKeys()
		return nil
	case "/key":
		return s.key(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  /login <email> [name]       sign in (prompts for the password)
  /logout                     sign out and forget stored API keys
  /whoami                     show the signed-in user
  /new                        start a new chat
  /sessions                   list chats
  /select <id>                switch to a chat
  /delete <id>                delete a chat
  /history                    show the current chat
  /models                     list the models you can use
  /model <id>                 select a model
  /keys                       list stored API keys
  /key set <model> <api-key>  store an API key for a model
  /key remove <model>         remove the API key of a model
  /quit                       leave
Anything else is sent as a message.
`)
}

func (s *Shell) send(ctx context.Context, content string) error {
	fmt.Fprintln(s.out, "...")
	outcome, err := s.svc.Chat.Send(ctx, content)
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return errors.New("sign in with /login to start chatting")
	case errors.Is(err, chat.ErrEmptyMessage):
		return nil
	case err != nil:
		return err
	}

	if outcome.ModelReset {
		fmt.Fprintf(s.out, "[Model] No API key stored for the selected model, switched to %s\n", catalog.FreeModelID)
	}
	fmt.Fprint(s.out, s.renderer.Message(outcome.Reply))
	return nil
}

func (s *Shell) login(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /login <email> [name]")
	}
	email := args[0]
	name := strings.Join(args[1:], " ")

	password, err := s.in.PasswordPrompt("Password: ")
	if err != nil {
		return err
	}

	user, _, err := s.svc.Login(ctx, email, name, password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return errors.New("invalid email or password")
	case err != nil:
		return err
	}

	fmt.Fprintf(s.out, "Signed in as %s\n", user.DisplayName())
	return nil
}

func (s *Shell) logout(ctx context.Context) error {
	if err := s.svc.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Signed out")
	return nil
}

func (s *Shell) whoami() error {
	user, ok := s.svc.Auth.CurrentUser()
	if !ok {
		return errors.New("not signed in")
	}
	fmt.Fprintf(s.out, "%s <%s>\n", user.DisplayName(), user.Email)
	return nil
}

func (s *Shell) newSession(ctx context.Context) error {
	sess, err := s.svc.Sessions.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Started %s\n", sess.ID)
	return nil
}

func (s *Shell) listSessions() {
	list := s.svc.Sessions.List()
	if len(list) == 0 {
		fmt.Fprintln(s.out, "No chats yet")
		return
	}
	current := s.svc.Sessions.Current()
	now := s.now()
	for _, sess := range list {
		fmt.Fprintln(s.out, render.SessionLine(sess, sess.ID == current, now))
	}
}

func (s *Shell) selectSession(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /select <id>")
	}
	if err := s.svc.Sessions.Select(args[0]); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return fmt.Errorf("no chat with id %s", args[0])
		}
		return err
	}
	return s.history()
}

func (s *Shell) deleteSession(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /delete <id>")
	}
	if err := s.svc.Sessions.Delete(ctx, args[0]); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return fmt.Errorf("no chat with id %s", args[0])
		}
		return err
	}
	fmt.Fprintln(s.out, "Deleted")
	return nil
}

func (s *Shell) history() error {
	id := s.svc.Sessions.Current()
	if id == "" {
		fmt.Fprintln(s.out, "No chat selected")
		return nil
	}
	sess, err := s.svc.Sessions.Get(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "== %s ==\n", render.DisplayTitle(sess.Title))
	for _, m := range sess.Messages {
		fmt.Fprint(s.out, s.renderer.Message(m))
	}
	return nil
}

func (s *Shell) listModels() {
	selected := s.svc.Chat.SelectedModel()
	usable := catalog.Usable(s.svc.Credentials)
	for _, m := range usable {
		marker := " "
		if m.ID == selected {
			marker = "*"
		}
		label := m.DisplayName
		if m.IsFree {
			label += " (free)"
		}
		fmt.Fprintf(s.out, "%s %s  %s\n", marker, m.ID, label)
	}
	if len(usable) == 1 {
		fmt.Fprintln(s.out, catalog.NoCredentialsHint)
	}
}

func (s *Shell) selectModel(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "Current model: %s\n", s.svc.Chat.SelectedModel())
		return nil
	}
	err := s.svc.Chat.SelectModel(args[0])
	switch {
	case errors.Is(err, chat.ErrCredentialRequired):
		return fmt.Errorf("no API key stored for %s, add one with /key set %s <api-key>", args[0], args[0])
	case err != nil:
		return err
	}
	fmt.Fprintf(s.out, "Using %s\n", args[0])
	return nil
}

func (s *Shell) listKeys() {
	for _, m := range catalog.All() {
		if m.IsFree {
			continue
		}
		key, ok := s.svc.Credentials.Get(m.ID)
		if !ok {
			fmt.Fprintf(s.out, "  %s  (not set)\n", m.ID)
			continue
		}
		fmt.Fprintf(s.out, "  %s  %s\n", m.ID, credentials.Mask(key))
	}
}

func (s *Shell) key(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /key set <model> <api-key> | /key remove <model>")
	}
	action, modelID := strings.ToLower(args[0]), args[1]
	if _, ok := catalog.Find(modelID); !ok {
		return fmt.Errorf("unknown model %s", modelID)
	}

	switch action {
	case "set":
		if len(args) != 3 {
			return errors.New("usage: /key set <model> <api-key>")
		}
		if err := s.svc.Credentials.Set(ctx, modelID, args[2]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Saved key for %s\n", modelID)
	case "remove", "rm":
		if err := s.svc.Credentials.Remove(ctx, modelID); err != nil {
			return err
		}
		// Follow does the same asynchronously
		s.svc.Chat.RevalidateModel()
		fmt.Fprintf(s.out, "Removed key for %s\n", modelID)
	default:
		return fmt.Errorf("unknown key action %s", action)
	}
	return nil
}
