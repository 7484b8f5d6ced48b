package modbusmeter

// TestPowerReader serves fixed values without a meter.
type TestPowerReader struct {
	Values []float64
	Err    error
}

func (reader *TestPowerReader) Open() error {
	return nil
}

func (reader *TestPowerReader) Close() error {
	return nil
}

func (reader *TestPowerReader) ReadPower() ([]float64, error) {
	if reader.Err != nil {
		return nil, reader.Err
	}
	return append([]float64(nil), reader.Values...), nil
}
