package grpc

import (
	"context"
	"errors"
	"time"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EncodingMetadataKey names the header carrying the codec of every streamed frame. Callers
// may also set it on the request to pick a codec.
const EncodingMetadataKey = "x-snapshot-encoding"

const (
	spectatorRateHz  = 20
	maxPendingFrames = 8
)

// Option customises the behaviour of the spectator service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithCompressor overrides the default payload compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// Service streams compressed match snapshots to read-only spectators.
type Service struct {
	source     SnapshotSource
	compressor Compressor
	newTicker  tickerFactory
}

// NewService wires the spectator service to the host snapshot fan-out.
func NewService(source SnapshotSource, opts ...Option) *Service {
	service := &Service{source: source, compressor: NewSnappyCompressor(), newTicker: defaultTickerFactory}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// StreamMatch relays the snapshots of one match until it ends or the caller goes away.
func (s *Service) StreamMatch(req *wrapperspb.Int64Value, stream grpclib.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	if req == nil || req.GetValue() <= 0 {
		return status.Error(codes.InvalidArgument, "match id required")
	}
	ctx := stream.Context()

	//1.- Subscribe before announcing the codec so unknown matches fail fast.
	events, cancel, err := s.source.SubscribeSnapshots(ctx, req.GetValue())
	if errors.Is(err, ErrUnknownMatch) {
		return status.Errorf(codes.NotFound, "match %d not found", req.GetValue())
	}
	if err != nil {
		return status.Errorf(codes.Internal, "subscribe snapshots: %v", err)
	}
	defer cancel()

	compressor := s.negotiate(ctx)
	if err := stream.SendHeader(metadata.Pairs(EncodingMetadataKey, compressor.Name())); err != nil {
		return err
	}

	tickCh, stop := s.newTicker(time.Second / spectatorRateHz)
	defer stop()

	var (
		pending []SnapshotEvent
		closed  bool
	)
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case event, ok := <-events:
			if !ok {
				//2.- The match ended; drain what is buffered then finish.
				closed = true
				events = nil
				if len(pending) == 0 {
					return nil
				}
				continue
			}
			//3.- Slow spectators only ever lag by a bounded window of frames.
			pending = append(pending, event)
			if len(pending) > maxPendingFrames {
				pending = pending[len(pending)-maxPendingFrames:]
			}
		case <-tickCh:
			if len(pending) == 0 {
				if closed {
					return nil
				}
				continue
			}
			event := pending[0]
			pending = pending[1:]
			compressed, err := compressor.Compress(event.Payload)
			if err != nil {
				return status.Errorf(codes.Internal, "compress snapshot: %v", err)
			}
			if err := stream.Send(wrapperspb.Bytes(compressed)); err != nil {
				return err
			}
		}
	}
}

func (s *Service) negotiate(ctx context.Context) Compressor {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return s.compressor
	}
	if values := md.Get(EncodingMetadataKey); len(values) > 0 {
		return CompressorByName(values[0])
	}
	return s.compressor
}

var _ SpectatorServer = (*Service)(nil)
