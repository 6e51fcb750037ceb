// Package app is a terminal client for the signaling server, used to
// exercise call and chat flows by hand.
package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"rtchat/internal/model"
	"rtchat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		userID string
		conn   *websocket.Conn
	}
)

func NewApp(userID string) *App {
	return &App{
		app:    tview.NewApplication(),
		userID: userID,
	}
}

// Run connects to the signaling socket and drives the UI until the user
// quits. Blocking.
func (c *App) Run(serverAddr, token string) error {
	u := url.URL{
		Scheme:   "ws",
		Host:     serverAddr,
		Path:     "/ws",
		RawQuery: "token=" + url.QueryEscape(token),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	c.conn = conn

	go c.listen()
	c.renderUI()
	return nil
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.app.Stop()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Signaling as %s ", c.userID))

	c.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" Command ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(line string) {
			if err := c.execute(line); err != nil {
				c.printf("[red]error:[-] %v", err)
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

const usage = `commands:
  /call <userID> .............. start a 1:1 call
  /accept <callID> <userID> ... answer a ringing call
  /reject <callID> ............ reject a ringing call
  /group <id1,id2,...> ........ start a group call
  /join <callID> .............. join a group call
  /decline <callID> ........... decline a group call
  /send <chatID> <text> ....... send a chat message
  /edit <messageID> <text> .... edit a message`

// execute turns one input line into a wire event.
func (c *App) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd := fields[0]
	args := fields[1:]

	switch {
	case cmd == "/call" && len(args) == 1:
		return c.send(model.EventCallOffer, model.CallOfferPayload{ToID: args[0]})
	case cmd == "/accept" && len(args) == 2:
		return c.send(model.EventCallAccepted, model.CallAnswerPayload{CallID: args[0], ToID: args[1]})
	case cmd == "/reject" && len(args) == 1:
		return c.send(model.EventCallRejected, model.CallAnswerPayload{CallID: args[0]})
	case cmd == "/group" && len(args) == 1:
		return c.send(model.EventGroupCallOffer, model.CallOfferPayload{
			ParticipantIDs: strings.Split(args[0], ","),
			IsGroup:        true,
		})
	case cmd == "/join" && len(args) == 1:
		return c.send(model.EventGroupCallAccepted, model.CallAnswerPayload{CallID: args[0]})
	case cmd == "/decline" && len(args) == 1:
		return c.send(model.EventGroupCallRejected, model.CallAnswerPayload{CallID: args[0]})
	case cmd == "/send" && len(args) >= 2:
		return c.send(model.EventNewMessage, model.MessagePayload{
			ChatID: args[0],
			Body:   strings.Join(args[1:], " "),
		})
	case cmd == "/edit" && len(args) >= 2:
		return c.send(model.EventEditMessage, model.MessagePayload{
			MessageID: args[0],
			Body:      strings.Join(args[1:], " "),
		})
	default:
		c.printf("%s", usage)
		return nil
	}
}

func (c *App) send(eventType string, payload any) error {
	data, err := model.Encode(eventType, payload)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *App) listen() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.printf("[red]connection closed:[-] %v", err)
			return
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error("Unmarshal frame failed", zap.Error(err))
			continue
		}
		c.printf("[yellow]%v[-] %s", frame["type"], summarize(frame))
	}
}

func summarize(frame map[string]any) string {
	parts := make([]string, 0, len(frame))
	for _, key := range []string{"callId", "fromId", "toId", "userId", "chatId", "messageId", "body", "online"} {
		if v, ok := frame[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

func (c *App) printf(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
	})
}
