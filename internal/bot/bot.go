package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"veebee/internal/config"
	"veebee/internal/namemc"
	"veebee/internal/premium"
	"veebee/internal/storage"
)

const (
	colorSuccess = 0x2ecc71
	colorError   = 0xe74c3c
	colorInfo    = 0x3498db
)

const presenceInterval = 30 * time.Second

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *storage.Store
	manager *premium.Manager
	lookup  *namemc.Client
	session *discordgo.Session

	stopPresence chan struct{}
}

// NewSession builds the gateway session the bot and the premium directory
// share. Member data drives the sync pass, so the members intent is required.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	return session, nil
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, manager *premium.Manager, lookup *namemc.Client, session *discordgo.Session) *Bot {
	return &Bot{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		manager:      manager,
		lookup:       lookup,
		session:      session,
		stopPresence: make(chan struct{}),
	}
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	if err := b.registerCommands(); err != nil {
		return err
	}

	go b.rotatePresence()
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	close(b.stopPresence)
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(event.Guilds)))
}

// rotatePresence alternates a watching status between the server count and the
// total member count.
func (b *Bot) rotatePresence() {
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()

	showServers := true
	b.updatePresence(showServers)
	for {
		select {
		case <-b.stopPresence:
			return
		case <-ticker.C:
			showServers = !showServers
			b.updatePresence(showServers)
		}
	}
}

func (b *Bot) updatePresence(showServers bool) {
	guilds := b.session.State.Guilds
	text := fmt.Sprintf("%d servers", len(guilds))
	if !showServers {
		var users int
		for _, guild := range guilds {
			if guild != nil {
				users += guild.MemberCount
			}
		}
		text = fmt.Sprintf("%d users", users)
	}

	err := b.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusDoNotDisturb),
		Activities: []*discordgo.Activity{
			{Name: text, Type: discordgo.ActivityTypeWatching},
		},
	})
	if err != nil {
		b.logger.Debug("presence update failed", zap.Error(err))
	}
}

// NotifyChannel sends a plain message; the status poller uses it for monitor
// state changes.
func (b *Bot) NotifyChannel(channelID, message string) {
	if channelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(channelID, message); err != nil {
		b.logger.Warn("channel notify failed",
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
