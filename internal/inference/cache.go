package inference

import (
	"fmt"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
)

// Cache holds the decoder's attention keys and values for one request. Each
// slot owns a buffer sized for the full decode, allocated once; the first
// Len positions are laid out densely as [1, heads, Len, headDim] so a slot
// can be handed to the runtime without copying.
type Cache struct {
	heads    int
	headDim  int
	capacity int
	length   int
	slots    [][]float32
}

// NewCache allocates slots buffers for up to capacity positions.
func NewCache(slots int, arch model.Architecture, capacity int) *Cache {
	c := &Cache{
		heads:    arch.Heads,
		headDim:  arch.HeadDim,
		capacity: capacity,
		slots:    make([][]float32, slots),
	}
	size := arch.Heads * capacity * arch.HeadDim
	for i := range c.slots {
		c.slots[i] = make([]float32, size)
	}
	return c
}

func (c *Cache) Len() int { return c.length }
func (c *Cache) Cap() int { return c.capacity }

// Shape is the tensor shape of every slot at the current length.
func (c *Cache) Shape() []int64 {
	return []int64{1, int64(c.heads), int64(c.length), int64(c.headDim)}
}

// View returns the live prefix of slot. It is only valid until the next
// Replace.
func (c *Cache) View(slot int) []float32 {
	return c.slots[slot][:c.heads*c.length*c.headDim]
}

// Replace overwrites every slot with the decoder's present tensors, given in
// slot order, and sets the length to theirs. Nothing is written unless every
// tensor has the expected geometry and all share one sequence length.
func (c *Cache) Replace(present []backend.NamedTensor) error {
	if len(present) != len(c.slots) {
		return fmt.Errorf("got %d present tensors, want %d", len(present), len(c.slots))
	}

	length := -1
	data := make([][]float32, len(present))
	for slot, t := range present {
		key := model.KeyForSlot(slot)
		if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != int64(c.heads) || t.Shape[3] != int64(c.headDim) {
			return fmt.Errorf("present %d.%s has shape %v, want [1 %d n %d]", key.Layer, key.Kind, t.Shape, c.heads, c.headDim)
		}
		n := int(t.Shape[2])
		if length >= 0 && n != length {
			return fmt.Errorf("present %d.%s has length %d, other layers have %d", key.Layer, key.Kind, n, length)
		}
		length = n
		if length > c.capacity {
			return fmt.Errorf("present length %d exceeds cache capacity %d", length, c.capacity)
		}
		values, err := t.Float32()
		if err != nil {
			return err
		}
		if want := c.heads * length * c.headDim; len(values) != want {
			return fmt.Errorf("present %d.%s has %d values, want %d", key.Layer, key.Kind, len(values), want)
		}
		data[slot] = values
	}

	for slot, values := range data {
		copy(c.slots[slot], values)
	}
	if length >= 0 {
		c.length = length
	}
	return nil
}
