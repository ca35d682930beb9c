package assemblyai

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rbright/relay/internal/session"
)

type v2Message struct {
	MessageType string `json:"message_type"`
	SessionID   string `json:"session_id"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

type v3Message struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Error           string `json:"error"`
}

func marshal(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode assemblyai message: %w", err)
	}
	return payload, nil
}

func audioMessage(pcm []byte) map[string]string {
	return map[string]string{"audio_data": base64.StdEncoding.EncodeToString(pcm)}
}

func terminateMessage(version string) ([]byte, error) {
	if version == "v3" {
		return marshal(map[string]string{"type": "Terminate"})
	}
	return marshal(map[string]bool{"terminate_session": true})
}

func decode(version string, data []byte) ([]session.Event, error) {
	if version == "v3" {
		return decodeV3(data)
	}
	return decodeV2(data)
}

func decodeV2(data []byte) ([]session.Event, error) {
	var msg v2Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode v2 message: %w", err)
	}
	if msg.Error != "" {
		return []session.Event{{Kind: session.EventError, Err: errors.New(msg.Error)}}, nil
	}

	switch msg.MessageType {
	case "SessionBegins":
		return []session.Event{{Kind: session.EventOpen, ProviderSessionID: msg.SessionID}}, nil
	case "PartialTranscript":
		if msg.Text == "" {
			return nil, nil
		}
		return []session.Event{{Kind: session.EventFragment, Text: msg.Text}}, nil
	case "FinalTranscript":
		if msg.Text == "" {
			return nil, nil
		}
		return []session.Event{{Kind: session.EventFragment, Text: msg.Text, Final: true}}, nil
	case "SessionTerminated":
		return []session.Event{{Kind: session.EventClose}}, nil
	default:
		return nil, nil
	}
}

// decodeV3 reports formatted end-of-turn transcripts as final. With
// format_turns enabled every turn ends twice, unformatted then formatted,
// so the unformatted end is dropped.
func decodeV3(data []byte) ([]session.Event, error) {
	var msg v3Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode v3 message: %w", err)
	}
	if msg.Error != "" {
		return []session.Event{{Kind: session.EventError, Err: errors.New(msg.Error)}}, nil
	}

	switch msg.Type {
	case "Begin":
		return []session.Event{{Kind: session.EventOpen, ProviderSessionID: msg.ID}}, nil
	case "Turn":
		if msg.Transcript == "" {
			return nil, nil
		}
		if !msg.EndOfTurn {
			return []session.Event{{Kind: session.EventFragment, Text: msg.Transcript}}, nil
		}
		if !msg.TurnIsFormatted {
			return nil, nil
		}
		return []session.Event{{Kind: session.EventFragment, Text: msg.Transcript, Final: true}}, nil
	case "Termination":
		return []session.Event{{Kind: session.EventClose}}, nil
	default:
		return nil, nil
	}
}
