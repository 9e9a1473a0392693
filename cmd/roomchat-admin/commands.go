package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/folkengine/goname"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/globals"
	"github.com/tcriess/roomchat/persistence"
	"github.com/tcriess/roomchat/types"
)

// admin holds the persister the commands work on. It is opened from the configuration unless already set.
type admin struct {
	persister persistence.Persister
	opened    bool
	cfg       *config.Config
}

func (a *admin) open(cmd *cobra.Command) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	a.cfg, err = config.ReadConfiguration(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(a.cfg.LogLevel))
	if a.persister != nil {
		return nil
	}
	a.persister, err = persistence.NewPersister(a.cfg)
	if err != nil {
		return err
	}
	a.opened = true
	return nil
}

func (a *admin) close() error {
	if !a.opened {
		return nil
	}
	a.opened = false
	err := a.persister.Close()
	a.persister = nil
	return err
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// definition returns the reader for a JSON definition argument, "-" meaning STDIN.
func definition(cmd *cobra.Command, arg string) io.Reader {
	if arg == "-" {
		return cmd.InOrStdin()
	}
	return bytes.NewReader([]byte(arg))
}

func newRootCmd(a *admin) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:          "roomchat-admin",
		Short:        "Administration of roomchat rooms, users and messages",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(config.GetFlagSet())

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms, users or messages",
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists the rooms, most recently active first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			rooms, err := a.persister.GetRooms(limit)
			if err != nil {
				return fmt.Errorf("could not get rooms: %w", err)
			}
			return printJSON(cmd, rooms)
		},
	}
	cmdShowRooms.Flags().Int("limit", 0, "maximum number of rooms (0: all)")
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := types.Room{Id: args[0]}
			if err := a.persister.GetRoom(&room); err != nil {
				return fmt.Errorf("could not get room: %w", err)
			}
			return printJSON(cmd, room)
		},
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all available users.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.persister.GetUsers()
			if err != nil {
				return fmt.Errorf("could not get users: %w", err)
			}
			return printJSON(cmd, users)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints detail information about the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := types.User{Id: args[0]}
			if err := a.persister.GetUser(&user); err != nil {
				return fmt.Errorf("could not get user: %w", err)
			}
			return printJSON(cmd, user)
		},
	}
	var cmdShowMessages = &cobra.Command{
		Use:   "messages [room id]",
		Short: "Show messages",
		Long:  `show messages prints the most recent messages of the room with the given id, oldest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			messages, err := a.persister.GetRecentMessages(args[0], limit)
			if err != nil {
				return fmt.Errorf("could not get messages: %w", err)
			}
			return printJSON(cmd, messages)
		},
	}
	cmdShowMessages.Flags().Int("limit", 50, "maximum number of messages (0: all)")

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete room or user",
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id. Its messages are kept.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.persister.DeleteRoom(&types.Room{Id: args[0]}); err != nil {
				return fmt.Errorf("could not delete room: %w", err)
			}
			return nil
		},
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Long:  `delete user removes the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.persister.DeleteUser(&types.User{Id: args[0]}); err != nil {
				return fmt.Errorf("could not delete user: %w", err)
			}
			return nil
		},
	}

	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update room or user",
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a room. If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := types.Room{}
			if err := json.NewDecoder(definition(cmd, args[0])).Decode(&room); err != nil {
				return fmt.Errorf("could not decode room: %w", err)
			}
			if room.Id == "" {
				return fmt.Errorf("no room id")
			}
			if room.Name == "" {
				return fmt.Errorf("no room name")
			}
			oldRoom := types.Room{Id: room.Id}
			err := a.persister.GetRoom(&oldRoom)
			switch {
			case err == nil:
				if room.CreatedAt.IsZero() {
					room.CreatedAt = oldRoom.CreatedAt
				}
				if room.LastActivity.IsZero() {
					room.LastActivity = oldRoom.LastActivity
				}
			case errors.Is(err, persistence.ErrNotFound):
				globals.AppLogger.Info("room does not exist, creating", "room", room.Id)
				if room.CreatedAt.IsZero() {
					room.CreatedAt = time.Now().UTC()
				}
			default:
				return fmt.Errorf("could not get room: %w", err)
			}
			if room.Members == nil {
				room.Members = types.StringSlice{}
			}
			if room.CreatedBy != "" {
				owner := types.User{Id: room.CreatedBy}
				if err := a.persister.GetUser(&owner); err != nil {
					globals.AppLogger.Warn("room creator is not a known user", "user", room.CreatedBy, "error", err)
				}
			}
			if err := a.persister.StoreRoom(room); err != nil {
				return fmt.Errorf("could not store room: %w", err)
			}
			return printJSON(cmd, room)
		},
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [user definition]",
		Short: "Set user",
		Long: `set user creates or updates a user with the given definition. If the user definition is "-", it is read from STDIN.
A user without username gets a generated one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := types.User{}
			if err := json.NewDecoder(definition(cmd, args[0])).Decode(&user); err != nil {
				return fmt.Errorf("could not decode user: %w", err)
			}
			if user.Id == "" {
				return fmt.Errorf("no user id")
			}
			if user.Username == "" {
				user.Username = goname.New(goname.FantasyMap).FirstLast()
			}
			if user.CreatedAt.IsZero() {
				user.CreatedAt = time.Now().UTC()
			}
			if err := a.persister.StoreUser(user); err != nil {
				return fmt.Errorf("could not store user: %w", err)
			}
			return printJSON(cmd, user)
		},
	}

	var cmdPrune = &cobra.Command{
		Use:   "prune",
		Short: "Delete old messages",
		Long:  `prune deletes all messages older than --max-age, defaulting to the configured retention max_age.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")
			if maxAge == 0 && a.cfg != nil {
				maxAge = a.cfg.RetentionConfig.MaxAge
			}
			n, err := persistence.PruneMessages(a.persister, maxAge, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("could not prune messages: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages\n", n)
			return err
		},
	}
	cmdPrune.Flags().Duration("max-age", 0, "delete messages older than this")

	rootCmd.AddCommand(cmdShow, cmdDelete, cmdSet, cmdPrune)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowUsers, cmdShowUser, cmdShowMessages)
	cmdDelete.AddCommand(cmdDeleteRoom, cmdDeleteUser)
	cmdSet.AddCommand(cmdSetRoom, cmdSetUser)
	return rootCmd
}
