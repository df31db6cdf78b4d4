// Package media строит SDP предложения и разбирает ответы для
// аудио вызовов (PCMU/PCMA) через pion/sdp.
package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Codec аудио кодек
type Codec int

const (
	CodecPCMU Codec = iota // G.711 u-law, payload type 0
	CodecPCMA              // G.711 a-law, payload type 8
)

func (c Codec) String() string {
	switch c {
	case CodecPCMU:
		return "PCMU"
	case CodecPCMA:
		return "PCMA"
	default:
		return "Unknown"
	}
}

// PayloadType статический RTP payload type кодека
func (c Codec) PayloadType() uint8 {
	switch c {
	case CodecPCMA:
		return 8
	default:
		return 0
	}
}

var (
	// ErrNoAudioMedia в SDP нет аудио секции
	ErrNoAudioMedia = errors.New("no audio media in SDP")

	// ErrNoCommonCodec нет общего кодека с удаленной стороной
	ErrNoCommonCodec = errors.New("no common codec")

	// ErrNoConnectionAddress в SDP нет адреса для медиа
	ErrNoConnectionAddress = errors.New("no connection address in SDP")
)

// Descriptor описывает согласованную медиа сессию
type Descriptor struct {
	Codec       Codec
	PayloadType uint8
	RemoteAddr  string
	RemotePort  int
}

// OfferConfig параметры построения SDP предложения
type OfferConfig struct {
	SessionName string
	Host        string // локальный адрес для c= строки
	Port        int    // локальный RTP порт
	Codecs      []Codec
	PTimeMs     int
}

// DefaultOfferConfig возвращает параметры по умолчанию:
// оба G.711 кодека, пакетизация 20мс
func DefaultOfferConfig(host string, port int) OfferConfig {
	return OfferConfig{
		SessionName: "call",
		Host:        host,
		Port:        port,
		Codecs:      []Codec{CodecPCMU, CodecPCMA},
		PTimeMs:     20,
	}
}

// BuildOffer строит SDP предложение с аудио секцией
func BuildOffer(cfg OfferConfig) ([]byte, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid media address %s:%d", cfg.Host, cfg.Port)
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = []Codec{CodecPCMU, CodecPCMA}
	}

	sessionID := uint64(time.Now().Unix())

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: cfg.Host,
		},
		SessionName: sdp.SessionName(cfg.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: cfg.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	formats := make([]string, 0, len(cfg.Codecs))
	attributes := make([]sdp.Attribute, 0, len(cfg.Codecs)+2)
	for _, codec := range cfg.Codecs {
		pt := codec.PayloadType()
		formats = append(formats, strconv.Itoa(int(pt)))
		attributes = append(attributes,
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/8000", pt, codec)))
	}
	if cfg.PTimeMs > 0 {
		attributes = append(attributes, sdp.NewAttribute("ptime", strconv.Itoa(cfg.PTimeMs)))
	}
	attributes = append(attributes, sdp.NewPropertyAttribute("sendrecv"))

	offer.MediaDescriptions = []*sdp.MediaDescription{
		{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: cfg.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attributes,
		},
	}

	return offer.Marshal()
}

// ParseAnswer разбирает SDP ответ и выбирает первый общий кодек
func ParseAnswer(body []byte, offered []Codec) (*Descriptor, error) {
	if len(offered) == 0 {
		offered = []Codec{CodecPCMU, CodecPCMA}
	}

	var answer sdp.SessionDescription
	if err := answer.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse SDP answer: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, md := range answer.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			audio = md
			break
		}
	}
	if audio == nil {
		return nil, ErrNoAudioMedia
	}

	// Адрес из media секции, иначе из session уровня
	addr := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		addr = audio.ConnectionInformation.Address.Address
	} else if answer.ConnectionInformation != nil && answer.ConnectionInformation.Address != nil {
		addr = answer.ConnectionInformation.Address.Address
	}
	if addr == "" {
		return nil, ErrNoConnectionAddress
	}

	for _, codec := range offered {
		pt := strconv.Itoa(int(codec.PayloadType()))
		for _, format := range audio.MediaName.Formats {
			if strings.TrimSpace(format) == pt {
				return &Descriptor{
					Codec:       codec,
					PayloadType: codec.PayloadType(),
					RemoteAddr:  addr,
					RemotePort:  audio.MediaName.Port.Value,
				}, nil
			}
		}
	}

	return nil, ErrNoCommonCodec
}
