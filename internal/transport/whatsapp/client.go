package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/wa-ai-bot-go/internal/models"
	"github.com/wa-ai-bot-go/internal/transport"
)

// Client connects the message pipeline to WhatsApp via whatsmeow. It owns
// the device session, translates incoming events into transport.Inbound
// envelopes and outgoing models.ReplyPayload values into wire messages.
type Client struct {
	wa      *whatsmeow.Client
	handler transport.Handler
	logger  *logrus.Logger
	http    *http.Client
}

// NewClient opens (or creates) the sqlite device store at storePath and
// builds a whatsmeow client around its first device. Pairing happens later
// in Connect when the store has no session yet.
func NewClient(storePath string, logger *logrus.Logger) (*Client, error) {
	dbLog := waLog.Stdout("Database", "ERROR", true)
	container, err := sqlstore.New(context.Background(), "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", storePath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	c := &Client{
		wa:     whatsmeow.NewClient(device, waLog.Stdout("Client", "ERROR", true)),
		logger: logger,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	c.wa.AddEventHandler(c.handleEvent)
	return c, nil
}

// SetHandler installs the inbound message handler. The pipeline needs the
// client as its sender, so the handler is attached after construction.
func (c *Client) SetHandler(h transport.Handler) {
	c.handler = h
}

// Connect establishes the session, printing a QR code to stdout when the
// device is not yet paired. It blocks until login completes.
func (c *Client) Connect(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		qrChan, _ := c.wa.GetQRChannel(ctx)
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
				c.logger.Info("scan the QR code above to pair the device")
			case "success":
				c.logger.Info("device paired")
			}
		}
		return nil
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect tears down the WhatsApp session.
func (c *Client) Disconnect() {
	c.wa.Disconnect()
}

// BotID returns the bot's own user identifier, used for mention detection.
func (c *Client) BotID() string {
	if c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.User
}

// GroupParticipants lists the member JIDs of a group chat.
func (c *Client) GroupParticipants(ctx context.Context, chatID string) ([]string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse group jid: %w", err)
	}
	info, err := c.wa.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	ids := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		ids = append(ids, p.JID.String())
	}
	return ids, nil
}

// Send delivers a reply to chatID, simulating typing for typingDelay first.
func (c *Client) Send(ctx context.Context, chatID string, payload models.ReplyPayload, typingDelay time.Duration) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}

	if typingDelay > 0 {
		c.wa.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
		select {
		case <-time.After(typingDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.wa.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}

	msg, err := c.buildMessage(ctx, payload)
	if err != nil {
		return err
	}
	if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *Client) buildMessage(ctx context.Context, payload models.ReplyPayload) (*waProto.Message, error) {
	switch payload.Kind {
	case models.ReplyMention:
		return &waProto.Message{
			ExtendedTextMessage: &waProto.ExtendedTextMessage{
				Text: proto.String(payload.Text),
				ContextInfo: &waProto.ContextInfo{
					MentionedJID: payload.MentionedIDs,
				},
			},
		}, nil
	case models.ReplyMedia:
		data, err := c.fetchMedia(ctx, payload)
		if err != nil {
			return nil, err
		}
		uploaded, err := c.wa.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("upload media: %w", err)
		}
		return &waProto.Message{
			ImageMessage: &waProto.ImageMessage{
				Caption:       proto.String(payload.Caption),
				Mimetype:      proto.String(http.DetectContentType(data)),
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(uploaded.FileLength),
			},
		}, nil
	default:
		return &waProto.Message{Conversation: proto.String(payload.Text)}, nil
	}
}

func (c *Client) fetchMedia(ctx context.Context, payload models.ReplyPayload) ([]byte, error) {
	if payload.MediaBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(payload.MediaBase64)
		if err != nil {
			return nil, fmt.Errorf("decode media: %w", err)
		}
		return data, nil
	}
	url := payload.MediaURL
	if url == "" {
		url = payload.StickerURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("media request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	}
}

func (c *Client) handleMessage(v *events.Message) {
	if v.Info.IsFromMe || v.Info.Chat.User == "status" {
		return
	}

	var text string
	if v.Message.GetConversation() != "" {
		text = v.Message.GetConversation()
	} else if v.Message.GetExtendedTextMessage() != nil {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" || c.handler == nil {
		return
	}

	in := transport.Inbound{
		ChatID:     v.Info.Chat.String(),
		SenderID:   v.Info.Sender.User,
		SenderName: v.Info.PushName,
		IsGroup:    v.Info.Chat.Server == types.GroupServer,
		Text:       text,
	}
	if ext := v.Message.GetExtendedTextMessage(); ext != nil && ext.GetContextInfo() != nil {
		for _, jid := range ext.GetContextInfo().GetMentionedJID() {
			parsed, err := types.ParseJID(jid)
			if err != nil {
				continue
			}
			in.MentionedIDs = append(in.MentionedIDs, parsed.User)
		}
	}

	go c.handler.HandleMessage(context.Background(), in)
}
