package transfer

// Direction tells which side of a transfer a Progress describes.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Progress is one progress report for an active transfer.
type Progress struct {
	FileID           string
	PeerID           string
	Direction        Direction
	ChunkIndex       int
	ChunksDone       int
	TotalChunks      int
	BytesTransferred int64
	TotalBytes       int64
	Percent          float64
	Completed        bool
}

func percentOf(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
