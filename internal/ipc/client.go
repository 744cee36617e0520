package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks daemon liveness.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Taskwatch.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartTasks creates tasks for the given targets and triggers them. A
// positive delayMS overrides the daemon's inter-task trigger delay.
func (c *Client) StartTasks(targets []TargetSpec, delayMS int) (*StartTasksResponse, error) {
	var resp StartTasksResponse
	req := StartTasksRequest{Targets: targets, DelayMS: delayMS}
	if err := c.client.Call("Taskwatch.StartTasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryTasks resets failed tasks and re-triggers them.
func (c *Client) RetryTasks(ids []string, delayMS int) (*RetryTasksResponse, error) {
	var resp RetryTasksResponse
	req := RetryTasksRequest{IDs: ids, DelayMS: delayMS}
	if err := c.client.Call("Taskwatch.RetryTasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Taskwatch.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCompleted removes completed tasks.
func (c *Client) ClearCompleted() (*ClearCompletedResponse, error) {
	var resp ClearCompletedResponse
	if err := c.client.Call("Taskwatch.ClearCompleted", ClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Taskwatch.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
