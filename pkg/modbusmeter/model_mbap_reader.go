package modbusmeter

import (
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader ModbusClient) readRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", reader.instrument)()
	return reader.client.ReadRegisters(addr, quantity, regType)
}

func (reader ModbusClient) readUint32s(addr uint16, quantity uint16, regType modbus.RegType) ([]uint32, error) {
	defer RecordTimer("ReadUint32s", reader.instrument)()
	return reader.client.ReadUint32s(addr, quantity, regType)
}

func (reader ModbusClient) readFloat32s(addr uint16, quantity uint16, regType modbus.RegType) ([]float32, error) {
	defer RecordTimer("ReadFloat32s", reader.instrument)()
	return reader.client.ReadFloat32s(addr, quantity, regType)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus read", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}
