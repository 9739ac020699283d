package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrNotRunning means no recorder answered on the control address.
var ErrNotRunning = errors.New("no recording is running")

// ErrRejected means the recorder refused the command in its current state.
var ErrRejected = errors.New("command rejected")

type Client struct {
	conn    *grpc.ClientConn
	address string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient connects lazily to the control service at address.
func NewClient(address string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control service (%s): %w", address, err)
	}

	return &Client{
		conn:    conn,
		address: address,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Pause(ctx context.Context) (Status, error)  { return c.call(ctx, "Pause") }
func (c *Client) Resume(ctx context.Context) (Status, error) { return c.call(ctx, "Resume") }
func (c *Client) Stop(ctx context.Context) (Status, error)   { return c.call(ctx, "Stop") }
func (c *Client) Status(ctx context.Context) (Status, error) { return c.call(ctx, "Status") }

func (c *Client) call(ctx context.Context, method string) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), &emptypb.Empty{}, out); err != nil {
		c.logger.Debug("Control call failed",
			zap.String("address", c.address),
			zap.String("method", method),
			zap.Error(err))
		return Status{}, fromStatus(err)
	}
	return statusFromStruct(out), nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrNotRunning, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	default:
		return errors.New(st.Message())
	}
}
