package broker

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"logsift/internal/record"
	"logsift/internal/syslog"
)

const (
	headerAddr       = "addr"
	headerPort       = "port"
	headerReceivedAt = "received_at"
)

// RecordMessage is the wire form of a forwarded record.
type RecordMessage struct {
	Timestamp  int64          `json:"timestamp"`
	Addr       string         `json:"addr"`
	Port       int            `json:"port"`
	Host       string         `json:"host"`
	Facility   string         `json:"facility"`
	Severity   string         `json:"severity"`
	Format     string         `json:"format"`
	Message    string         `json:"message"`
	Raw        string         `json:"raw"`
	Logged     string         `json:"logged,omitempty"`
	App        string         `json:"app,omitempty"`
	ProcID     string         `json:"procid,omitempty"`
	MsgID      string         `json:"msgid,omitempty"`
	Structured []syslog.Param `json:"structured,omitempty"`
}

func NewRecordMessage(rec record.Record) RecordMessage {
	msg := RecordMessage{
		Timestamp:  rec.Timestamp.UnixMilli(),
		Addr:       rec.Addr,
		Port:       rec.Port,
		Host:       rec.Host,
		Facility:   rec.Facility,
		Severity:   rec.Severity,
		Format:     rec.Format,
		Message:    rec.Message,
		Raw:        rec.Raw,
		App:        rec.App,
		ProcID:     rec.ProcID,
		MsgID:      rec.MsgID,
		Structured: rec.Structured,
	}
	if !rec.Logged.IsZero() {
		msg.Logged = rec.Logged.Format(time.RFC3339Nano)
	}
	return msg
}

func encodeRecord(topic string, rec record.Record) (kafka.Message, error) {
	body, err := json.Marshal(NewRecordMessage(rec))
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(rec.Addr),
		Value: body,
		Time:  rec.Timestamp,
	}, nil
}

// decodePacket reads a raw syslog payload. The source address comes from
// the addr header, falling back to the message key; arrival defaults to
// the Kafka message time.
func decodePacket(m kafka.Message) syslog.RawPacket {
	pkt := syslog.RawPacket{
		Addr:       string(m.Key),
		Data:       m.Value,
		ReceivedAt: m.Time,
	}
	for _, h := range m.Headers {
		switch h.Key {
		case headerAddr:
			pkt.Addr = string(h.Value)
		case headerPort:
			if port, err := strconv.Atoi(string(h.Value)); err == nil {
				pkt.Port = port
			}
		case headerReceivedAt:
			if ms, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				pkt.ReceivedAt = time.UnixMilli(ms)
			}
		}
	}
	if pkt.ReceivedAt.IsZero() {
		pkt.ReceivedAt = time.Now()
	}
	return pkt
}
