package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/keywrap"
	"github.com/Berkay2002/rsa-messenger/internal/model"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	Config struct {
		ServerHost  string
		KeyBits     int
		WrapMode    keywrap.Mode
		GroupPolicy GroupPolicy
	}

	// App is the terminal UI. It is glue only: it drives the session
	// manager and message router and renders display events.
	App struct {
		app      *tview.Application
		pages    *tview.Pages
		chatbox  *tview.TextView
		input    *tview.InputField
		contacts *tview.List
		status   *tview.TextView

		cfg       Config
		dir       Directory
		transport *Transport
		manager   *SessionManager
		router    *MessageRouter
	}
)

func NewApp(cfg Config, dir Directory) *App {
	return &App{
		app:     tview.NewApplication(),
		cfg:     cfg,
		dir:     dir,
		manager: NewSessionManager(dir, cfg.KeyBits, cfg.WrapMode),
	}
}

// Run blocks until the UI exits.
func (a *App) Run(ctx context.Context) error {
	a.pages = tview.NewPages()
	a.pages.AddPage("login", a.loginForm(ctx), true, true)

	return a.app.SetRoot(a.pages, true).Run()
}

func (a *App) Stop() {
	if a.transport != nil {
		a.transport.Close()
	}
	a.manager.Close()
	a.app.Stop()
}

func (a *App) loginForm(ctx context.Context) tview.Primitive {
	status := tview.NewTextView().SetDynamicColors(true)

	form := tview.NewForm().
		AddInputField("Username", "", 32, nil, nil).
		AddPasswordField("Password", "", 32, '*', nil)
	form.SetBorder(true).SetTitle(" RSA Messenger ")

	form.AddButton("Sign in", func() {
		username := form.GetFormItemByLabel("Username").(*tview.InputField).GetText()
		password := form.GetFormItemByLabel("Password").(*tview.InputField).GetText()

		go func() {
			session, err := a.manager.Authenticate(ctx, username, password)
			if err != nil {
				a.app.QueueUpdateDraw(func() {
					status.SetText(fmt.Sprintf("[red]%v[-]", err))
				})
				return
			}
			a.enterChat(ctx, session, status)
		}()
	})
	form.AddButton("Quit", func() {
		a.Stop()
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(status, 1, 0, false)
	return layout
}

func (a *App) enterChat(ctx context.Context, session *Session, status *tview.TextView) {
	transport, err := Dial(a.cfg.ServerHost, session.Username)
	if err != nil {
		a.app.QueueUpdateDraw(func() {
			status.SetText(fmt.Sprintf("[red]connect: %v[-]", err))
		})
		return
	}
	a.transport = transport
	a.router = NewMessageRouter(session, a.dir, transport, a.cfg.GroupPolicy)

	// Announce presence; the private key never rides along.
	if err := transport.EmitEvent(&model.Event{
		Name:      model.EventUserJoin,
		Username:  session.Username,
		PublicKey: session.KeyPair.PublicPEM,
	}); err != nil {
		log.Error("announce presence failed", zap.Error(err))
	}

	go transport.Listen(a.handleEvent)

	a.app.QueueUpdateDraw(func() {
		a.pages.AddAndSwitchToPage("chat", a.chatLayout(ctx, session), true)
		a.app.SetFocus(a.input)
	})
}

func (a *App) chatLayout(ctx context.Context, session *Session) tview.Primitive {
	a.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.chatbox.SetBorder(true).SetTitle(" Messages ")

	a.status = tview.NewTextView().SetDynamicColors(true)
	a.status.SetText(fmt.Sprintf("signed in as [yellow]%s[-]", session.Username))

	a.contacts = tview.NewList().ShowSecondaryText(true)
	a.contacts.SetBorder(true).SetTitle(" Conversations ")
	a.populateContacts(ctx, session.Username)

	a.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" New Message ")

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if text == "" {
			return
		}

		target, _ := a.router.currentToken()
		go func(target model.Target, msg string) {
			if err := a.sendAndRender(ctx, target, msg); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.status.SetText(fmt.Sprintf("[red]%v[-]", err))
				})
			}
		}(target, text)
	})

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.contacts, 0, 1, false)

	main := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatbox, 0, 1, false).
		AddItem(a.input, 3, 0, true).
		AddItem(a.status, 1, 0, false)

	return tview.NewFlex().
		AddItem(sidebar, 28, 0, false).
		AddItem(main, 0, 1, true)
}

func (a *App) populateContacts(ctx context.Context, username string) {
	friends, err := a.dir.Friends(ctx, username)
	if err != nil {
		log.Error("fetch friends failed", zap.Error(err))
	}
	for _, friend := range friends {
		name := friend
		a.contacts.AddItem(name, "direct", 0, func() {
			a.openConversation(model.DirectTarget(name))
		})
	}

	groups, err := a.dir.Groups(ctx, username)
	if err != nil {
		log.Error("fetch groups failed", zap.Error(err))
	}
	for _, group := range groups {
		name := group
		a.contacts.AddItem("#"+name, "group", 0, func() {
			a.openConversation(model.GroupTarget(name, nil))
			if err := a.transport.EmitEvent(&model.Event{
				Name:      model.EventJoinGroup,
				GroupName: name,
				Username:  username,
			}); err != nil {
				log.Error("join group failed", zap.Error(err))
			}
		})
	}
}

func (a *App) openConversation(target model.Target) {
	a.router.OpenConversation(target)
	a.chatbox.Clear()
	title := target.Name
	if target.IsGroup {
		title = "#" + target.Name
	}
	a.chatbox.SetTitle(fmt.Sprintf(" Chat with %s ", title))
	a.app.SetFocus(a.input)
}

func (a *App) sendAndRender(ctx context.Context, target model.Target, msg string) error {
	err := a.router.Send(ctx, target, msg)
	if errors.Is(err, ErrNoDestination) {
		return errors.New("select a conversation first")
	}
	if err != nil {
		// Leave the input unconsumed so the user can retry.
		return err
	}

	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.chatbox, "[yellow]You:[-] %s\n", msg)
		a.input.SetText("")
		a.chatbox.ScrollToEnd()
	})
	return nil
}

func (a *App) handleEvent(event *model.Event) {
	switch event.Name {
	case model.EventChat:
		display, ok := a.router.Receive(&model.Envelope{
			Sender:     event.Username,
			Ciphertext: event.Message,
			IsGroup:    event.Group != "",
			Group:      event.Group,
		})
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			if display.DecryptFailed {
				fmt.Fprintf(a.chatbox, "[green]%s:[-] [red]%s[-]\n", display.Sender, display.Text)
			} else {
				fmt.Fprintf(a.chatbox, "[green]%s:[-] %s\n", display.Sender, display.Text)
			}
			a.chatbox.ScrollToEnd()
		})

	case model.EventConnected, model.EventDisconnected:
		a.app.QueueUpdateDraw(func() {
			if a.status != nil {
				a.status.SetText(fmt.Sprintf("transport: %s", event.Name))
			}
		})
	}
}
