package powermeter

import (
	"context"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/pkg/modbusmeter"
)

// ModbusSource reads one value per configured register.
type ModbusSource struct {
	name   string
	reader modbusmeter.PowerReader
}

func NewModbusSource(name string, reader modbusmeter.PowerReader) *ModbusSource {
	return &ModbusSource{name: name, reader: reader}
}

func (s *ModbusSource) Fetch(ctx context.Context) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := s.reader.ReadPower()
	if err != nil {
		return nil, domain.NewSourceError(s.name, err)
	}
	return domain.Reading(values), nil
}

func (s *ModbusSource) WaitForMessage(_ context.Context, _ time.Duration) error {
	return nil
}

func (s *ModbusSource) Close() error {
	return s.reader.Close()
}
