package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	fluid "github.com/esimov/pic-fluid/fluid-solver"
)

// Commands accepted from clients.
const (
	CmdStart = "start_fluid_simulation"
	CmdStop  = "stop_fluid_simulation"
)

// Events sent to clients.
const (
	EventUpdateGrid = "update_grid"
	EventError      = "error"
)

// Format selects the wire encoding of a client connection.
type Format int

const (
	FormatJSON Format = iota
	FormatMsgpack
)

// ParseFormat maps the ?format= query value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "msgpack":
		return FormatMsgpack, nil
	}
	return FormatJSON, fmt.Errorf("unknown format %q", s)
}

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// Command is an inbound control message.
type Command struct {
	Cmd  string `json:"cmd" msgpack:"cmd"`
	Rows int    `json:"rows,omitempty" msgpack:"rows,omitempty"`
	Cols int    `json:"cols,omitempty" msgpack:"cols,omitempty"`
}

// FluidGrid is the payload of an update_grid event.
type FluidGrid struct {
	Data fluid.Occupancy `json:"data" msgpack:"data"`
}

var (
	_ msgpack.CustomEncoder = (*FluidGrid)(nil)
	_ msgpack.CustomDecoder = (*FluidGrid)(nil)
)

// EncodeMsgpack writes each row as an array of integers, as the JSON form
// does, rather than as a bin blob.
func (g *FluidGrid) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString("data"); err != nil {
		return err
	}
	if g.Data == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeArrayLen(len(g.Data)); err != nil {
		return err
	}
	for _, row := range g.Data {
		if err := enc.EncodeArrayLen(len(row)); err != nil {
			return err
		}
		for _, n := range row {
			if err := enc.EncodeUint(uint64(n)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeMsgpack reads the form written by EncodeMsgpack.
func (g *FluidGrid) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		if key != "data" {
			if err := dec.Skip(); err != nil {
				return err
			}
			continue
		}
		if g.Data, err = decodeOccupancy(dec); err != nil {
			return fmt.Errorf("decoding grid: %w", err)
		}
	}
	return nil
}

func decodeOccupancy(dec *msgpack.Decoder) (fluid.Occupancy, error) {
	rows, err := dec.DecodeArrayLen()
	if err != nil || rows < 0 {
		return nil, err
	}
	grid := make(fluid.Occupancy, rows)
	for r := range grid {
		cols, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if cols < 0 {
			continue
		}
		grid[r] = make([]uint8, cols)
		for c := range grid[r] {
			if grid[r][c], err = dec.DecodeUint8(); err != nil {
				return nil, err
			}
		}
	}
	return grid, nil
}

// Event is an outbound message.
type Event struct {
	Event   string     `json:"event" msgpack:"event"`
	Payload *FluidGrid `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Message string     `json:"message,omitempty" msgpack:"message,omitempty"`
}

// Encode serializes ev in the given format.
func Encode(ev Event, f Format) ([]byte, error) {
	if f == FormatMsgpack {
		return msgpack.Marshal(ev)
	}
	return json.Marshal(ev)
}

// DecodeCommand parses a client message. Binary messages are msgpack,
// text messages are JSON.
func DecodeCommand(data []byte, binary bool) (Command, error) {
	var cmd Command
	var err error
	if binary {
		err = msgpack.Unmarshal(data, &cmd)
	} else {
		err = json.Unmarshal(data, &cmd)
	}
	if err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	return cmd, nil
}
