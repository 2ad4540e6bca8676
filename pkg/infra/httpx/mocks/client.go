package mocks

import (
	"net/http"

	"github.com/stretchr/testify/mock"
)

// Client is a testify mock of httpx.Client.
type Client struct {
	mock.Mock
}

func (m *Client) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	var resp *http.Response
	if r, ok := args.Get(0).(*http.Response); ok {
		resp = r
	}
	return resp, args.Error(1)
}

// NewClient registers an expectation check with t.
func NewClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *Client {
	m := &Client{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
