package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jrsteele09/go-chat-session/auth"
	"github.com/jrsteele09/go-chat-session/client"
	"github.com/jrsteele09/go-chat-session/events"
	"github.com/jrsteele09/go-chat-session/offline"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"register": registerCmd,
	"login":    loginCmd,
	"logout":   logoutCmd,
	"sessions": sessionsCmd,
	"switch":   switchCmd,
	"whoami":   whoamiCmd,
	"refresh":  refreshCmd,
	"send":     sendCmd,
	"sync":     syncCmd,
	"queue":    queueCmd,
	"discard":  discardCmd,
	"draft":    draftCmd,
	"messages": messagesCmd,
	"status":   statusCmd,
	"watch":    watchCmd,
}

func registerCmd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	username := fs.String("username", "", "username")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	display := fs.String("display", "", "display name")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	user, err := a.manager.Register(ctx, auth.Registration{
		Username:    *username,
		Email:       *email,
		Password:    *password,
		DisplayName: *display,
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered and signed in as %s (%s)\n", user.Name(), user.ID)
	return nil
}

func loginCmd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	user, err := a.manager.Login(ctx, auth.Credentials{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s (%s)\n", user.Name(), user.ID)
	return nil
}

func logoutCmd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	all := fs.Bool("all", false, "sign out every stored user")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *all {
		if err := a.manager.LogoutAll(ctx); err != nil {
			return err
		}
		fmt.Println("signed out everywhere")
		return nil
	}
	if err := a.manager.Logout(ctx, fs.Arg(0)); err != nil {
		return err
	}
	if user, err := a.manager.CurrentUser(ctx); err == nil {
		fmt.Printf("signed out; now using %s (%s)\n", user.Name(), user.ID)
		return nil
	}
	fmt.Println("signed out")
	return nil
}

func sessionsCmd(ctx context.Context, a *app, _ []string) error {
	recs, err := a.manager.AvailableSessions(ctx)
	if err != nil {
		return err
	}
	current, _ := a.manager.CurrentUser(ctx)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tUSER ID\tNAME\tEXPIRES\tLAST ACTIVE")
	for _, rec := range recs {
		marker := ""
		if current != nil && current.ID == rec.UserID {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, rec.UserID, rec.User.Name(),
			rec.Expiry.Local().Format(time.Kitchen), rec.LastActive.Local().Format(time.Kitchen))
	}
	return tw.Flush()
}

func switchCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	user, err := a.manager.SwitchUser(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("now using %s (%s)\n", user.Name(), user.ID)
	return nil
}

func whoamiCmd(ctx context.Context, a *app, _ []string) error {
	user, err := a.manager.FetchProfile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s) <%s>\n", user.Name(), user.ID, user.Email)
	return nil
}

func refreshCmd(ctx context.Context, a *app, _ []string) error {
	if err := a.manager.Refresh(ctx); err != nil {
		return err
	}
	fmt.Printf("session refreshed, state %s\n", a.manager.State())
	return nil
}

func sendCmd(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	conversationID, text := args[0], strings.Join(args[1:], " ")

	a.monitor.Check(ctx)
	if err := a.manager.RecordActivity(ctx, auth.ActivityKeypress); err != nil {
		log.Debug().Err(err).Msg("record activity")
	}

	res, err := a.outbox.SendMessage(ctx, offline.OutgoingMessage{ConversationID: conversationID, Content: text})
	if err != nil {
		return err
	}
	if res.Queued != nil {
		fmt.Printf("offline: queued %s\n", res.Queued.ID)
	} else {
		fmt.Printf("sent %s\n", res.Message.ID)
	}
	return a.outbox.ClearDraft(ctx, conversationID)
}

func syncCmd(ctx context.Context, a *app, _ []string) error {
	if !a.monitor.Check(ctx) {
		return fmt.Errorf("backend unreachable")
	}
	res, err := a.outbox.SyncMessages(ctx)
	if errors.Is(err, offline.ErrSyncInProgress) {
		a.outbox.Wait()
		res, err = a.outbox.SyncMessages(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("synced %d/%d, %d rejected, %d remaining\n", res.SuccessCount, res.TotalCount, res.Rejected, res.Remaining)
	return nil
}

func queueCmd(_ context.Context, a *app, _ []string) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tCONVERSATION\tSTATUS\tATTEMPTS\tCONTENT")
	for _, qm := range a.outbox.Queue() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", qm.ID, qm.UserID, qm.ConversationID, qm.Status, qm.Attempts, qm.Content)
	}
	return tw.Flush()
}

func discardCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return a.outbox.DiscardQueued(ctx, args[0])
}

func draftCmd(ctx context.Context, a *app, args []string) error {
	switch len(args) {
	case 0:
		return errUsage
	case 1:
		fmt.Println(a.outbox.Draft(args[0]))
		return nil
	default:
		return a.outbox.SaveDraft(ctx, args[0], strings.Join(args[1:], " "))
	}
}

func messagesCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	var msgs []offline.Message
	if err := a.manager.AuthenticatedJSON(ctx, client.Request{Method: http.MethodGet, Path: offline.MessagesPath(args[0])}, &msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.Content)
	}
	return nil
}

func statusCmd(ctx context.Context, a *app, _ []string) error {
	online := a.monitor.Check(ctx)
	fmt.Printf("backend:  %s (online %t)\n", a.cfg.GetAPIBaseURL(), online)
	fmt.Printf("state:    %s\n", a.manager.State())
	if user, err := a.manager.CurrentUser(ctx); err == nil {
		fmt.Printf("user:     %s (%s)\n", user.Name(), user.ID)
		fmt.Printf("expires:  in %s\n", a.store.TimeUntilExpiry(ctx).Round(time.Second))
	}
	fmt.Printf("queued:   %d\n", len(a.outbox.Queue()))
	return nil
}

// watchCmd keeps the session alive and replays the queue whenever the backend
// comes back, printing signals until interrupted.
func watchCmd(ctx context.Context, a *app, _ []string) error {
	for _, name := range []events.Name{
		events.AuthRestored, events.AuthSwitched, events.AuthLogout,
		events.OfflineMessageSent, events.OfflineMessageRejected, events.OfflineSyncComplete,
		events.NetworkOnline, events.NetworkOffline,
	} {
		a.bus.Subscribe(name, func(ev events.Event) {
			fmt.Printf("%s  %s %+v\n", ev.At.Local().Format(time.Kitchen), ev.Name, ev.Payload)
		})
	}

	fmt.Printf("watching %s, state %s (ctrl-c to stop)\n", a.cfg.GetAPIBaseURL(), a.manager.State())
	a.monitor.Run(ctx)
	return nil
}
