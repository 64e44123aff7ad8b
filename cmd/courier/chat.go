package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/dispatch"
	"github.com/klipach/courier/recent"
	"github.com/spf13/cobra"
)

const timeFormat = "Jan 2 15:04"

func newContactsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "Follow recent conversations until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			sub, err := a.client.WatchRecent(cmd.Context(), func(u recent.Update) {
				fmt.Fprintln(out, "--")
				for _, e := range u.Entries {
					fmt.Fprintf(out, "%s\t%s\t%s\n", e.Timestamp.Local().Format(timeFormat), e.Email, a.client.Preview(e))
				}
			})
			if err != nil {
				return err
			}
			defer sub.Cancel()

			select {
			case <-cmd.Context().Done():
			case <-sub.Done():
			}
			return sub.Err()
		},
	}
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer-uid>",
		Short: "Open a conversation; every line read from stdin is sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			peerID := args[0]
			uid, _ := a.client.Identity.CurrentUser()
			out := cmd.OutOrStdout()
			var mu sync.Mutex

			sub, err := a.client.OpenConversation(ctx, peerID, func(messages []contract.Message) {
				mu.Lock()
				defer mu.Unlock()
				for _, m := range messages {
					who := "them"
					if m.FromID == uid {
						who = "me"
					}
					fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format(timeFormat), who, m.Text)
				}
			})
			if err != nil {
				return err
			}
			defer sub.Cancel()

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-sub.Done():
					return sub.Err()
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if err := a.client.Send(ctx, peerID, line); err != nil {
						mu.Lock()
						reportSendError(cmd.ErrOrStderr(), err)
						mu.Unlock()
					}
				}
			}
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer-uid> <text>",
		Short: "Send one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Send(cmd.Context(), args[0], args[1]); err != nil {
				reportSendError(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func reportSendError(w io.Writer, err error) {
	var deliveryErr *dispatch.DeliveryError
	if errors.As(err, &deliveryErr) {
		fmt.Fprintf(w, "message partially delivered: %s\n", deliveryErr.Summary())
		return
	}
	fmt.Fprintf(w, "message not sent: %v\n", err)
}
