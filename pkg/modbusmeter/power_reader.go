// Package modbusmeter reads instantaneous power values from Modbus TCP
// meters.
package modbusmeter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type DataType string

const (
	DATA_TYPE_UINT16  DataType = "UINT16"
	DATA_TYPE_INT16   DataType = "INT16"
	DATA_TYPE_UINT32  DataType = "UINT32"
	DATA_TYPE_INT32   DataType = "INT32"
	DATA_TYPE_FLOAT32 DataType = "FLOAT32"
)

type PowerReader interface {
	Open() error
	Close() error
	ReadPower() ([]float64, error)
}

type Config struct {
	Host         string
	Port         uint
	UnitID       uint8
	Address      uint16
	Count        uint16
	DataType     DataType
	ByteOrder    string
	WordOrder    string
	RegisterType string
	Timeout      time.Duration
}

// RegisterPowerReader reads Count values of DataType starting at Address.
// The connection is opened lazily and reopened after a failed read.
type RegisterPowerReader struct {
	ModbusClient
	cfg     Config
	regType modbus.RegType

	mu   sync.Mutex
	open bool
}

func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(strings.ToUpper(s)); dt {
	case "":
		return DATA_TYPE_UINT16, nil
	case DATA_TYPE_UINT16, DATA_TYPE_INT16, DATA_TYPE_UINT32, DATA_TYPE_INT32, DATA_TYPE_FLOAT32:
		return dt, nil
	}
	return "", fmt.Errorf("unsupported modbus data type %q", s)
}

func parseEncoding(byteOrder string, wordOrder string) (modbus.Endianness, modbus.WordOrder, error) {
	var endianness modbus.Endianness
	switch strings.ToUpper(byteOrder) {
	case "", "BIG":
		endianness = modbus.BIG_ENDIAN
	case "LITTLE":
		endianness = modbus.LITTLE_ENDIAN
	default:
		return 0, 0, fmt.Errorf("unsupported byte order %q", byteOrder)
	}
	var words modbus.WordOrder
	switch strings.ToUpper(wordOrder) {
	case "", "BIG":
		words = modbus.HIGH_WORD_FIRST
	case "LITTLE":
		words = modbus.LOW_WORD_FIRST
	default:
		return 0, 0, fmt.Errorf("unsupported word order %q", wordOrder)
	}
	return endianness, words, nil
}

func parseRegisterType(s string) (modbus.RegType, error) {
	switch strings.ToUpper(s) {
	case "", "HOLDING":
		return modbus.HOLDING_REGISTER, nil
	case "INPUT":
		return modbus.INPUT_REGISTER, nil
	}
	return 0, fmt.Errorf("unsupported register type %q", s)
}

func CreateRegisterPowerReader(cfg Config, logger *zap.Logger, instrumentation *ModbusInstrument) (PowerReader, error) {
	if cfg.Port == 0 {
		cfg.Port = 502
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = 1
	}
	if cfg.Count == 0 {
		cfg.Count = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	dataType, err := ParseDataType(string(cfg.DataType))
	if err != nil {
		return nil, err
	}
	cfg.DataType = dataType
	regType, err := parseRegisterType(cfg.RegisterType)
	if err != nil {
		return nil, err
	}
	endianness, wordOrder, err := parseEncoding(cfg.ByteOrder, cfg.WordOrder)
	if err != nil {
		return nil, err
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(cfg.UnitID); err != nil {
		return nil, err
	}
	if err := client.SetEncoding(endianness, wordOrder); err != nil {
		return nil, err
	}

	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", cfg.Host), zap.Uint8("unit", cfg.UnitID)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &RegisterPowerReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		cfg:     cfg,
		regType: regType,
	}, nil
}

func (reader *RegisterPowerReader) Open() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.openLocked()
}

func (reader *RegisterPowerReader) openLocked() error {
	if reader.open {
		return nil
	}
	if err := reader.client.Open(); err != nil {
		return err
	}
	reader.open = true
	return nil
}

func (reader *RegisterPowerReader) Close() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if !reader.open {
		return nil
	}
	reader.open = false
	return reader.client.Close()
}

func (reader *RegisterPowerReader) ReadPower() ([]float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if err := reader.openLocked(); err != nil {
		return nil, err
	}
	values, err := reader.read()
	if err != nil {
		// drop the connection so the next read starts clean
		reader.open = false
		reader.client.Close()
		return nil, err
	}
	return values, nil
}

func (reader *RegisterPowerReader) read() ([]float64, error) {
	addr, count := reader.cfg.Address, reader.cfg.Count
	switch reader.cfg.DataType {
	case DATA_TYPE_UINT16, DATA_TYPE_INT16:
		regs, err := reader.readRegisters(addr, count, reader.regType)
		if err != nil {
			return nil, err
		}
		return convertRegisters(regs, reader.cfg.DataType), nil
	case DATA_TYPE_UINT32, DATA_TYPE_INT32:
		regs, err := reader.readUint32s(addr, count, reader.regType)
		if err != nil {
			return nil, err
		}
		return convertUint32s(regs, reader.cfg.DataType), nil
	case DATA_TYPE_FLOAT32:
		regs, err := reader.readFloat32s(addr, count, reader.regType)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(regs))
		for i, v := range regs {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, errors.New("unsupported data type")
}

func convertRegisters(regs []uint16, dataType DataType) []float64 {
	out := make([]float64, len(regs))
	for i, v := range regs {
		if dataType == DATA_TYPE_INT16 {
			out[i] = float64(int16(v))
		} else {
			out[i] = float64(v)
		}
	}
	return out
}

func convertUint32s(regs []uint32, dataType DataType) []float64 {
	out := make([]float64, len(regs))
	for i, v := range regs {
		if dataType == DATA_TYPE_INT32 {
			out[i] = float64(int32(v))
		} else {
			out[i] = float64(v)
		}
	}
	return out
}
