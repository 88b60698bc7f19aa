package remote

import (
	"encoding/binary"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/matt-g-everett/animtx/render"
)

// LEDSink publishes frames to an LED controller over MQTT. The animation is
// scaled down to the strip's width x height grid before it is sent.
type LEDSink struct {
	client     mqtt.Client
	topic      string
	surface    *render.Surface
	serpentine bool
}

// NewLEDSink creates an instance of an LEDSink. With serpentine set, odd
// rows are sent right to left to match strips wired back and forth.
func NewLEDSink(client mqtt.Client, topic string, width, height int, serpentine bool) *LEDSink {
	return &LEDSink{
		client:     client,
		topic:      topic,
		surface:    render.NewSurface(width, height),
		serpentine: serpentine,
	}
}

// AcquireSurface always returns the strip-sized surface.
func (s *LEDSink) AcquireSurface(int, int) *render.Surface {
	return s.surface
}

func (s *LEDSink) Present(surface *render.Surface) error {
	b, err := MarshalFrame(surface, s.serpentine)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.topic, 2, false, b)
	token.Wait()
	return token.Error()
}

// MarshalFrame encodes a surface in the LED wire format: a little endian
// uint16 pixel count followed by one RGB triple per pixel. Alpha is dropped,
// which composites the premultiplied pixels onto black.
func MarshalFrame(s *render.Surface, serpentine bool) ([]byte, error) {
	n := s.Width * s.Height
	if n > 0xffff {
		return nil, fmt.Errorf("frame of %d pixels does not fit the wire format", n)
	}

	data := make([]byte, 2, n*3+2)
	binary.LittleEndian.PutUint16(data, uint16(n))

	for y := 0; y < s.Height; y++ {
		for i := 0; i < s.Width; i++ {
			x := i
			if serpentine && y%2 == 1 {
				x = s.Width - 1 - i
			}
			o := (y*s.Width + x) * 4
			c := colorful.Color{
				R: float64(s.Pix[o]) / 255,
				G: float64(s.Pix[o+1]) / 255,
				B: float64(s.Pix[o+2]) / 255,
			}
			r, g, b := c.Clamped().RGB255()
			data = append(data, r, g, b)
		}
	}

	return data, nil
}
