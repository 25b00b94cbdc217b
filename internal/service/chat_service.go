package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/models"
	"github.com/railguard/railcomm-api/internal/observability"
	"github.com/railguard/railcomm-api/internal/repository"
)

const (
	chatRedisTTL       = 30 * time.Minute
	chatSendBufferSize = 8
)

// ErrRoomNotFound is surfaced when an operation references a room that does
// not exist or has been closed.
var ErrRoomNotFound = repository.ErrRoomNotFound

// ErrEmptyMessage rejects a send whose body is empty once sanitized.
var ErrEmptyMessage = errors.New("message body empty after sanitization")

// RoomDirectory is the slice of the room service the message path needs.
type RoomDirectory interface {
	Find(ctx context.Context, roomID string) (models.ChatRoom, error)
	ApplyMessage(ctx context.Context, room models.ChatRoom, last dto.ChatMessageResponse, updatedAt int64) error
	AcknowledgeRead(ctx context.Context, room models.ChatRoom, readerRole string) error
	NotifyParticipants(ctx context.Context, room models.ChatRoom)
}

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	UserName      string
	Role          string
	RoomID        string
	CorrelationID string
	Context       context.Context
}

// ChatService is the message store plus the escalation path: it appends
// messages, serves history, tracks read state and drives live delivery.
type ChatService interface {
	Send(ctx context.Context, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error)
	SendEmergencyAlert(ctx context.Context, payload dto.EmergencyAlertRequest) (dto.ChatMessageResponse, error)
	History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	MarkRead(ctx context.Context, payload dto.MarkReadRequest) (dto.MarkReadResponse, error)
	SubscribeMessages(roomID string, fn func([]dto.ChatMessageResponse)) func()
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	Start(ctx context.Context)
}

type chatService struct {
	messages    repository.MessageRepository
	directory   RoomDirectory
	redis       *redis.Client
	redisStream string
	redisCache  string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	hub         *Hub
	locks       lockRegistry
	nodeID      string
	now         func() time.Time
}

// chatEvent crosses node boundaries via Redis pub/sub and NATS; receivers
// rebuild snapshots from their own storage view before fanning out locally.
type chatEvent struct {
	Source string    `json:"source"`
	RoomID string    `json:"room_id"`
	Urgent bool      `json:"urgent"`
	SentAt time.Time `json:"sent_at"`
}

// NewChatService creates the chat message service.
func NewChatService(messages repository.MessageRepository, directory RoomDirectory, hub *Hub, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	stream := ""
	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		stream = channelBase + ":chat"
		cachePrefix = channelBase + ":chat:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		messages:    messages,
		directory:   directory,
		redis:       redisClient,
		redisStream: stream,
		redisCache:  cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/railguard/railcomm-api/internal/service/chat"),
		sanitizer:   bluemonday.StrictPolicy(),
		hub:         hub,
		nodeID:      uuid.NewString(),
		now:         time.Now,
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) Send(ctx context.Context, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	return s.send(ctx, payload, false)
}

// SendEmergencyAlert forces emergency type and priority and routes delivery
// through the hub's urgent lane so it is never held behind coalesced normal
// notifications.
func (s *chatService) SendEmergencyAlert(ctx context.Context, payload dto.EmergencyAlertRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	request := dto.ChatSendRequest{
		RoomID:     payload.RoomID,
		SenderID:   payload.SenderID,
		SenderName: payload.SenderName,
		SenderRole: payload.SenderRole,
		Body:       payload.Body,
		Type:       models.MessageTypeEmergency,
		Priority:   models.PriorityEmergency,
	}

	response, err := s.send(ctx, request, true)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	observability.EmergencyAlertsTotal().Inc()
	s.logger.Warn().
		Str("room_id", response.RoomID).
		Str("sender_id", response.SenderID).
		Msg("emergency alert dispatched")

	return response, nil
}

func (s *chatService) send(ctx context.Context, payload dto.ChatSendRequest, urgent bool) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Body))
	if clean == "" {
		return dto.ChatMessageResponse{}, ErrEmptyMessage
	}

	messageType := payload.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	priority := payload.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.room_id", payload.RoomID),
		attribute.String("chat.sender_id", payload.SenderID),
		attribute.String("chat.type", messageType),
		attribute.String("chat.priority", priority),
	}
	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(attrs...))
	defer span.End()

	// Single writer per room: the summary update and the append commit as
	// one logical step with respect to other senders and readers.
	unlock := s.locks.acquire("room:" + payload.RoomID)
	defer unlock()

	room, err := s.directory.Find(spanCtx, payload.RoomID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}
	if !room.IsActive {
		return dto.ChatMessageResponse{}, ErrRoomNotFound
	}

	last, err := s.messages.LastTimestamp(spanCtx, room.ID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	// Strictly increasing within the room; bump logically when the wall
	// clock has not advanced past the previous message.
	timestamp := s.now().UnixMilli()
	if timestamp <= last {
		timestamp = last + 1
	}

	model := models.ChatMessage{
		RoomID:      room.ID,
		SenderID:    payload.SenderID,
		SenderName:  payload.SenderName,
		SenderRole:  payload.SenderRole,
		Body:        clean,
		Timestamp:   timestamp,
		TrainNumber: payload.TrainNumber,
		StationCode: payload.StationCode,
		Type:        messageType,
		Priority:    priority,
	}

	if err := s.messages.Append(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	response := dto.NewChatMessageResponse(model)

	if err := s.directory.ApplyMessage(spanCtx, room, response, timestamp); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	s.publishRoomSnapshot(spanCtx, room, urgent)
	s.directory.NotifyParticipants(spanCtx, room)

	s.cacheLastMessage(spanCtx, response)
	if err := s.publishEvent(spanCtx, room.ID, urgent); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat event")
	}

	observability.ChatMessagesSent().WithLabelValues(messageType, priority).Inc()

	return response, nil
}

func (s *chatService) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByRoom(ctx, query.RoomID, query.Since)
	if err != nil {
		return nil, err
	}
	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *chatService) MarkRead(ctx context.Context, payload dto.MarkReadRequest) (dto.MarkReadResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MarkReadResponse{}, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.room_id", payload.RoomID),
		attribute.String("chat.reader_role", payload.ReaderRole),
	}
	spanCtx, span := s.tracer.Start(ctx, "chat.mark_read", trace.WithAttributes(attrs...))
	defer span.End()

	unlock := s.locks.acquire("room:" + payload.RoomID)
	defer unlock()

	room, err := s.directory.Find(spanCtx, payload.RoomID)
	if err != nil {
		span.RecordError(err)
		return dto.MarkReadResponse{}, err
	}

	updated, err := s.messages.MarkRead(spanCtx, room.ID, payload.ReaderRole)
	if err != nil {
		span.RecordError(err)
		return dto.MarkReadResponse{}, err
	}

	if err := s.directory.AcknowledgeRead(spanCtx, room, payload.ReaderRole); err != nil {
		span.RecordError(err)
		return dto.MarkReadResponse{}, err
	}

	if updated > 0 {
		s.publishRoomSnapshot(spanCtx, room, false)
	}
	s.directory.NotifyParticipants(spanCtx, room)

	return dto.MarkReadResponse{RoomID: room.ID, Updated: updated}, nil
}

func (s *chatService) SubscribeMessages(roomID string, fn func([]dto.ChatMessageResponse)) func() {
	return s.hub.SubscribeMessages(roomID, fn)
}

// publishRoomSnapshot pushes the full message sequence of a room through the
// hub, taken after the triggering mutation committed.
func (s *chatService) publishRoomSnapshot(ctx context.Context, room models.ChatRoom, urgent bool) {
	messages, err := s.messages.ListByRoom(ctx, room.ID, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to build message snapshot")
		return
	}
	s.hub.PublishMessages(room.ID, dto.NewChatMessageResponseSlice(messages), urgent)
}

func (s *chatService) cacheLastMessage(ctx context.Context, message dto.ChatMessageResponse) {
	if s.redis == nil || s.redisCache == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal chat message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, message.RoomID)
	if err := s.redis.Set(ctx, key, payload, chatRedisTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache chat message")
	}
}

func (s *chatService) publishEvent(ctx context.Context, roomID string, urgent bool) error {
	event := chatEvent{
		Source: s.nodeID,
		RoomID: roomID,
		Urgent: urgent,
		SentAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleEvent(ctx, []byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "railcomm-chat", func(msg *nats.Msg) {
		s.handleEvent(ctx, msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

// handleEvent reacts to a mutation committed by another node: rebuild the
// snapshots from storage and fan out to local subscribers only.
func (s *chatService) handleEvent(ctx context.Context, data []byte) {
	var event chatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	room, err := s.directory.Find(ctx, event.RoomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", event.RoomID).Msg("chat event for unknown room")
		return
	}

	s.publishRoomSnapshot(ctx, room, event.Urgent)
	s.directory.NotifyParticipants(ctx, room)
}

type chatClient struct {
	conn        *websocket.Conn
	send        chan []dto.ChatMessageResponse
	options     ChatConnectionOptions
	service     *chatService
	unsubscribe func()
	closed      chan struct{}
	once        sync.Once
	baseCtx     context.Context
}

// ServeConnection pumps live message snapshots to a websocket client and
// accepts sends from it. Blocks until the connection drops.
func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan []dto.ChatMessageResponse, chatSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	client.unsubscribe = s.hub.SubscribeMessages(opts.RoomID, client.push)
	observability.ChatConnectionsTotal().Inc()

	// Initial full snapshot so the client can render before the first change.
	if history, err := s.History(baseCtx, dto.ChatHistoryQuery{RoomID: opts.RoomID}); err == nil {
		client.push(history)
	} else {
		s.logger.Warn().Err(err).Str("room_id", opts.RoomID).Msg("failed to load initial snapshot")
	}

	go client.writer()
	client.reader()
}

func (c *chatClient) push(snapshot []dto.ChatMessageResponse) {
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- snapshot:
	default:
		c.service.logger.Debug().
			Str("room_id", c.options.RoomID).
			Str("user_id", c.options.UserID).
			Msg("dropping snapshot for slow chat client")
	}
}

func (c *chatClient) reader() {
	defer c.close()

	for {
		var payload dto.ChatSendRequest
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		if payload.RoomID == "" {
			payload.RoomID = c.options.RoomID
		}
		if payload.SenderID == "" {
			payload.SenderID = c.options.UserID
		}
		if payload.SenderName == "" {
			payload.SenderName = c.options.UserName
		}
		if payload.SenderRole == "" {
			payload.SenderRole = c.options.Role
		}

		if _, err := c.service.Send(c.baseCtx, payload); err != nil {
			c.service.logger.Warn().Err(err).
				Str("room_id", payload.RoomID).
				Msg("failed to process chat message")
		}
	}
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case snapshot, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(snapshot); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.unsubscribe()
		_ = c.conn.Close()
	})
}
