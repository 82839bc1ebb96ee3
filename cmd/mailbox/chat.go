package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/service"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Open a live chat session in a conversation",
	Long: `chat loads the conversation history, follows new messages live and reads
lines from stdin. Plain lines are sent; commands start with a slash:

  /list            reprint the conversation
  /edit N text     change your message N
  /delete N        hide your message N locally
  /react N emoji   toggle a reaction on message N
  /retry N         resend failed message N
  /quit            leave`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

type chatSession struct {
	conversationID uuid.UUID
	userID         uuid.UUID
	coord          *service.SendCoordinator
	view           *chatView
}

func runChat(cmd *cobra.Command, args []string) error {
	userID, err := userFlag(cmd)
	if err != nil {
		return err
	}
	convID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, userID)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.index.Open(ctx, convID); err != nil {
		return err
	}
	conv, _ := a.store.Conversation(convID)
	out := cmd.OutOrStdout()

	subscriber, err := a.subscriber()
	if err != nil {
		return err
	}

	coord := service.NewSendCoordinator(a.store, a.msgRepo, a.acks(), a.log.Named("send"))
	coord.SetUpdater(a.msgRepo)
	defer coord.Close()

	ingestor := service.NewRealtimeIngestor(a.store, subscriber, a.users, a.notifier(out), userID, a.log.Named("realtime"))
	ingestor.SetHydrator(a.index)
	defer ingestor.Close()

	view := &chatView{
		out:            out,
		store:          a.store,
		conversationID: convID,
		userID:         userID,
		otherLabel:     conv.OtherUserDisplayName,
	}
	if view.otherLabel == "" {
		view.otherLabel = conv.OtherUserUsername
	}

	ingestor.OnConnectionLost(func(_ uuid.UUID, err error) {
		view.println(fmt.Sprintf("⚠ live updates stopped: %v (reopen the chat to reconnect)", err))
	})

	fmt.Fprintf(out, "── %s ──\n", view.otherLabel)
	view.printHistory()
	unsubscribe := a.store.Subscribe(view.onChange)
	defer unsubscribe()

	if err := ingestor.Activate(ctx, convID); err != nil {
		view.println(fmt.Sprintf("⚠ live updates unavailable: %v", err))
	}

	s := &chatSession{conversationID: convID, userID: userID, coord: coord, view: view}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handle(ctx, line)
			if err != nil {
				view.println("! " + err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *chatSession) handle(ctx context.Context, line string) (bool, error) {
	c, err := parseCommand(line)
	if err != nil {
		return false, err
	}

	switch c.kind {
	case cmdQuit:
		return true, nil
	case cmdHelp:
		return false, errUsage
	case cmdList:
		s.view.printHistory()
		return false, nil
	case cmdSend:
		if c.arg == "" {
			return false, nil
		}
		_, err := s.coord.Send(ctx, service.SendInput{
			ConversationID: s.conversationID,
			SenderID:       s.userID,
			Content:        c.arg,
		})
		return false, err
	}

	msg, err := s.nth(c.index)
	if err != nil {
		return false, err
	}

	switch c.kind {
	case cmdEdit:
		return false, s.coord.Edit(ctx, s.userID, s.conversationID, msg.ID, c.arg)
	case cmdDelete:
		return false, s.coord.Delete(s.userID, s.conversationID, msg.ID)
	case cmdReact:
		return false, s.coord.ToggleReaction(s.userID, s.conversationID, msg.ID, c.arg)
	case cmdRetry:
		_, err := s.coord.Retry(ctx, s.conversationID, msg.ID)
		return false, err
	}
	return false, nil
}

func (s *chatSession) nth(n int) (domain.Message, error) {
	msgs := s.view.store.Messages(s.conversationID)
	if n < 1 || n > len(msgs) {
		return domain.Message{}, errors.New("no such message")
	}
	return msgs[n-1], nil
}
