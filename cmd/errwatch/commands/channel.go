package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/monitor"
	"github.com/errwatch/errwatch/notify"
)

// ChannelCmd groups notification channel operations.
var ChannelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage notification channels",
	Long: `Manage notification channels (webhook, telegram, teams).

Examples:
  errwatch channel ls
  errwatch channel add -f webhook.json
  errwatch channel bind failed-orders <channel-id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var channelAddFile string

// channelDefinition is the JSON shape accepted by `channel add`.
type channelDefinition struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

var channelLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List notification channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		rows, err := database.Query(`
			SELECT id, name, channel_type, active, total_sent,
				COALESCE(last_sent_at, ''), COALESCE(last_error, '')
			FROM notification_channels ORDER BY name`)
		if err != nil {
			return errors.Wrap(err, "query channels")
		}
		defer rows.Close()

		fmt.Printf("%-36s %-16s %-9s %-7s %5s  %s\n", "ID", "NAME", "TYPE", "ACTIVE", "SENT", "LAST ERROR")
		for rows.Next() {
			var id, name, chType, lastSent, lastError string
			var active, totalSent int
			if err := rows.Scan(&id, &name, &chType, &active, &totalSent, &lastSent, &lastError); err != nil {
				return errors.Wrap(err, "scan channel")
			}
			fmt.Printf("%-36s %-16s %-9s %-7v %5d  %s\n", id, name, chType, active != 0, totalSent, lastError)
		}
		return rows.Err()
	},
}

var channelAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a notification channel from a JSON definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		if channelAddFile == "" {
			return errors.New("--file is required")
		}

		content, err := os.ReadFile(channelAddFile)
		if err != nil {
			return errors.Wrap(err, "read channel definition")
		}
		var def channelDefinition
		if err := json.Unmarshal(content, &def); err != nil {
			return errors.Wrap(err, "parse channel definition")
		}

		switch def.Type {
		case notify.ChannelWebhook, notify.ChannelTelegram, notify.ChannelTeams:
		default:
			return errors.Newf("unknown channel type %q", def.Type)
		}
		if def.Name == "" {
			return errors.New("channel name is required")
		}

		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		ch := &notify.Channel{
			Name:   def.Name,
			Type:   def.Type,
			Config: string(def.Config),
			Active: true,
		}
		if err := notify.NewChannelStore(database).Create(ch); err != nil {
			return err
		}
		fmt.Printf("Created channel %q (%s)\n", ch.Name, ch.ID)
		return nil
	},
}

var channelBindCmd = &cobra.Command{
	Use:   "bind <query-name> <channel-id>",
	Short: "Associate a channel with a monitored query",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		q, err := monitor.NewQueryStore(database).GetByName(args[0])
		if err != nil {
			return errors.Wrapf(err, "query %q", args[0])
		}

		store := notify.NewChannelStore(database)
		if _, err := store.Get(args[1]); err != nil {
			return errors.Wrapf(err, "channel %q", args[1])
		}
		if err := store.Bind(q.ID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Bound channel %s to query %q\n", args[1], q.Name)
		return nil
	},
}

func init() {
	channelAddCmd.Flags().StringVarP(&channelAddFile, "file", "f", "", "JSON channel definition file")

	ChannelCmd.AddCommand(channelLsCmd)
	ChannelCmd.AddCommand(channelAddCmd)
	ChannelCmd.AddCommand(channelBindCmd)
}
