package conn

// Channel is an interface that wraps the duplex byte stream to the remote
// device. Read polls with a bounded wait and returns an empty slice when
// nothing arrived, so callers stay responsive without spinning on the line.
type Channel interface {
	Read() ([]byte, error)
	Write([]byte) error
}
