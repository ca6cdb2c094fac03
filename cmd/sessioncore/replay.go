package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/sessioncore/pkg/persistence/chatstore"
	"github.com/go-go-golems/sessioncore/pkg/redisstream"
	"github.com/go-go-golems/sessioncore/pkg/session"
)

func newReplayCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <frames.jsonl>",
		Short: "Apply recorded frames to a fresh session and print the transcript",
		Long: `Apply recorded frames to a fresh session and print the transcript.

The file holds one JSON frame per line, for example:

  {"kind":"begin","prompt":"hello"}
  {"kind":"event","type":"content_delta","payload":"Hi"}
  {"kind":"complete","result":{"session_id":"abc"}}

Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cfg.v)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			sessionID, _ := f.GetString("session-id")
			save, _ := f.GetBool("save")
			asJSON, _ := f.GetBool("json")
			tokens, _ := f.GetBool("tokens")
			markdown, _ := f.GetBool("markdown")

			frames, err := readFramesFile(args[0])
			if err != nil {
				return err
			}
			sess, err := session.New(sessionID, s.Protocol)
			if err != nil {
				return err
			}

			var rec *chatstore.Recorder
			if save {
				if s.DB == "" {
					return errors.New("--save needs --db")
				}
				store, err := openStore(s)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				rec = chatstore.NewRecorder(store, sess.ID, string(sess.Protocol), sess.State())
			}

			for _, fr := range frames {
				sess.Apply(fr)
			}
			if rec != nil {
				if err := rec.Save(cmd.Context()); err != nil {
					return errors.Wrap(err, "save transcript")
				}
				log.Info().Str("session_id", sess.ID).Str("db", s.DB).Msg("transcript saved")
			}

			snap := sess.Snapshot()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			p, err := newTranscriptPrinter(out, markdown, tokens)
			if err != nil {
				return err
			}
			p.header("Session "+sess.ID, [][2]string{
				{"protocol", string(sess.Protocol)},
				{"phase", string(snap.Phase)},
				{"backend session", snap.SessionID},
				{"error", snap.Error},
			})
			return p.messages(snap.Messages)
		},
	}
	cmd.Flags().String("session-id", "", "Session id (generated when empty)")
	cmd.Flags().Bool("save", false, "Persist the resulting transcript to --db")
	cmd.Flags().Bool("json", false, "Print the session snapshot as JSON")
	cmd.Flags().Bool("tokens", false, "Show per-message token counts")
	cmd.Flags().Bool("markdown", true, "Render assistant messages as markdown on terminals")
	return cmd
}

func newPublishCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <frames.jsonl>",
		Short: "Send recorded frames to a session over the redis transport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cfg.v)
			if err != nil {
				return err
			}
			if !s.Redis.Enabled {
				return errors.New("publish needs the redis transport (--redis-enabled)")
			}
			sessionID, _ := cmd.Flags().GetString("session-id")
			interval, _ := cmd.Flags().GetDuration("interval")
			if sessionID == "" {
				return errors.New("--session-id is required")
			}

			frames, err := readFramesFile(args[0])
			if err != nil {
				return err
			}
			// the group has to exist before the first frame so a server that
			// subscribes later still receives every frame
			if err := redisstream.EnsureSessionGroup(cmd.Context(), s.Redis, sessionID); err != nil {
				return err
			}
			pub, sub, err := redisstream.Build(s.Redis)
			if err != nil {
				return err
			}
			defer func() {
				_ = pub.Close()
				_ = sub.Close()
			}()

			n, err := publishFrames(cmd.Context(), pub, sessionID, frames, interval)
			log.Info().Str("session_id", sessionID).Int("frames", n).Msg("published frames")
			return err
		},
	}
	cmd.Flags().String("session-id", "", "Target session id")
	cmd.Flags().Duration("interval", 0, "Delay between frames, to simulate streaming")
	return cmd
}

// publishFrames sends frames in order and returns how many were sent.
func publishFrames(ctx context.Context, pub message.Publisher, sessionID string, frames []session.Frame, interval time.Duration) (int, error) {
	for i, f := range frames {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(interval):
			}
		}
		b, err := json.Marshal(f)
		if err != nil {
			return i, errors.Wrapf(err, "encode frame %d", i)
		}
		if err := redisstream.Publish(pub, sessionID, message.NewMessage(uuid.NewString(), b)); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}
