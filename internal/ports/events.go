package ports

type EventBus interface {
	Publish(topic string, payload []byte)
	Subscribe() (ch <-chan Event, cancel func())
}

type Event struct {
	Topic   string
	Payload []byte
}

const (
	TopicSubtitleCaptured = "subtitle.captured"
	TopicSubtitleRejected = "subtitle.rejected"
	TopicHistoryUpdated   = "history.updated"
	TopicCacheCleared     = "cache.cleared"
	TopicSettingsUpdated  = "settings.updated"
)
