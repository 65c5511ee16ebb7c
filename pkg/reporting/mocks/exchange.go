// Package mocks provides testify mocks of the reporting contracts.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/mash-protocol/mash-reporting/pkg/reporting"
)

// Exchange is a mock of reporting.Exchange.
type Exchange struct {
	mock.Mock
}

var _ reporting.Exchange = (*Exchange)(nil)

// MaxPayloadSize provides a mock function.
func (m *Exchange) MaxPayloadSize() int {
	ret := m.Called()
	return ret.Int(0)
}

// Send provides a mock function.
func (m *Exchange) Send(payload []byte, done func(error)) error {
	ret := m.Called(payload, done)
	return ret.Error(0)
}

// Close provides a mock function.
func (m *Exchange) Close(err error) {
	m.Called(err)
}

// NewExchange creates a mock and registers its assertions with t.
func NewExchange(t interface {
	mock.TestingT
	Cleanup(func())
}) *Exchange {
	m := &Exchange{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
