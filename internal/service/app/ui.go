package app

import (
	"context"
	"fmt"
	"roomchat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type tviewView struct {
	app     *tview.Application
	chatbox *tview.TextView
	status  *tview.TextView
}

func (v *tviewView) Print(line string) {
	v.app.QueueUpdateDraw(func() {
		fmt.Fprintln(v.chatbox, line)
		v.chatbox.ScrollToEnd()
	})
}

func (v *tviewView) Status(text string) {
	v.app.QueueUpdateDraw(func() {
		v.status.SetText(text)
	})
}

// Run prepares the key, connects and blocks in the terminal UI until the
// user quits.
func (c *App) Run(ctx context.Context) error {
	if err := c.Prepare(ctx); err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}

	ui := tview.NewApplication()
	view := &tviewView{
		app: ui,
		chatbox: tview.NewTextView().
			SetDynamicColors(true).
			SetScrollable(true),
		status: tview.NewTextView().
			SetDynamicColors(true),
	}
	c.view = view

	view.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" #%s ", c.room))
	if c.shareLink != "" {
		fmt.Fprintf(view.chatbox, "[gray]Share this link to invite others:[-]\n%s\n", c.shareLink)
	} else if c.opts.Link == "" {
		fmt.Fprintln(view.chatbox, "[red]Share link unavailable.[-]")
	}

	input := tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	input.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", c.opts.Name))
	input.SetChangedFunc(func(text string) {
		if text != "" {
			go c.Typing()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := input.GetText()
		if text == "" {
			return
		}
		input.SetText("")

		go func(msg string) {
			if err := c.SendMessage(ctx, msg); err != nil {
				log.Error("send message failed", zap.Error(err))
				view.Print(fmt.Sprintf("[red]message not sent: %v[-]", err))
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(view.chatbox, 0, 1, false).
		AddItem(view.status, 1, 0, false).
		AddItem(input, 3, 0, true)

	go func() {
		c.Listen(ctx)
		ui.Stop()
	}()
	go func() {
		<-ctx.Done()
		ui.Stop()
	}()

	if err := ui.SetRoot(layout, true).SetFocus(input).Run(); err != nil {
		return fmt.Errorf("cannot init ui: %w", err)
	}
	return nil
}
