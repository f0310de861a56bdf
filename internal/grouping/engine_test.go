package grouping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldconfig-backend/internal/fieldconfig"
)

func TestGroupOf_DefaultsAndOverrides(t *testing.T) {
	e := Default()
	tests := []struct {
		key  string
		want string
	}{
		{"ServiceProviderAlias", "Service Provider"},
		{"ServiceLevel", "Service Provider"},
		{"IncoTermLocation", "Inco Terms"},
		{"PaymentMethod", "Payment"},
		{"ReleaseGid", "Release"},
		{"invoiceXid", "Invoice"},
		{"amount", "Amount"},
		{"XMLPayload", "General"},
		{"_self", "General"},
		{"123abc", "General"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, e.GroupOf(fieldconfig.Descriptor{Key: tt.key}))
		})
	}
}

func TestGroupOf_LastMatchingOverrideWins(t *testing.T) {
	e, err := New(
		Override{Prefix: "ServiceProvider", Group: "Carrier"},
		Override{Prefix: "Service", Group: "Services"},
	)
	require.NoError(t, err)
	assert.Equal(t, "Services", e.GroupOf(fieldconfig.Descriptor{Key: "ServiceProviderAlias"}))

	e, err = New(
		Override{Prefix: "Service", Group: "Services"},
		Override{Prefix: "ServiceProvider", Group: "Carrier"},
	)
	require.NoError(t, err)
	assert.Equal(t, "Carrier", e.GroupOf(fieldconfig.Descriptor{Key: "ServiceProviderAlias"}))
	assert.Equal(t, "Services", e.GroupOf(fieldconfig.Descriptor{Key: "ServiceLevel"}))
}

func TestGroupOf_ExpressionOverride(t *testing.T) {
	e, err := New(Override{Expression: `valueType == "array" && key endsWith "Refs"`, Group: "References"})
	require.NoError(t, err)

	assert.Equal(t, "References", e.GroupOf(fieldconfig.Descriptor{Key: "orderRefs", ValueType: fieldconfig.Array}))
	assert.Equal(t, "Order", e.GroupOf(fieldconfig.Descriptor{Key: "orderRefs", ValueType: fieldconfig.Scalar}))
}

func TestNew_RejectsBadOverrides(t *testing.T) {
	_, err := New(Override{Prefix: "x"})
	assert.Error(t, err)
	_, err = New(Override{Prefix: "x", Expression: "true", Group: "X"})
	assert.Error(t, err)
	_, err = New(Override{Expression: "key +", Group: "X"})
	assert.Error(t, err)
}

func TestGroup_OrdersFieldsMandatoryFirstThenLabel(t *testing.T) {
	seq := fieldconfig.Sequence{
		{Key: "invoiceDate", Label: "date"},
		{Key: "PaymentMethod", Label: "Method"},
		{Key: "invoiceXid", Label: "XID", Mandatory: true},
		{Key: "invoiceAmount", Label: "Amount"},
		{Key: "PaymentTerms", Label: "Terms", Mandatory: true},
	}
	groups := Default().Group(seq)

	require.Equal(t, []string{"Invoice", "Payment"}, Names(groups))
	var keys []string
	for _, d := range groups[0].Fields {
		keys = append(keys, d.Key)
		assert.Equal(t, "Invoice", d.Group)
	}
	assert.Equal(t, []string{"invoiceXid", "invoiceAmount", "invoiceDate"}, keys)
	assert.Equal(t, "PaymentTerms", groups[1].Fields[0].Key)

	// input is left untouched
	assert.Empty(t, seq[0].Group)
}

func TestAssign(t *testing.T) {
	a := Default().Assign(fieldconfig.Sequence{{Key: "ServiceProviderAlias"}, {Key: "domainName"}})
	assert.Equal(t, Assignment{"ServiceProviderAlias": "Service Provider", "domainName": "Domain"}, a)
}

func TestExpandState(t *testing.T) {
	s := NewExpandState()
	assert.True(t, s.Expanded("anything"))

	s.Reset([]string{"Invoice", "Payment"})
	assert.True(t, s.Expanded("Invoice"))

	assert.False(t, s.Toggle("Invoice"))
	assert.False(t, s.Expanded("Invoice"))
	assert.True(t, s.Expanded("Payment"))

	s.SetAll(false)
	assert.Equal(t, map[string]bool{"Invoice": false, "Payment": false}, s.Snapshot())
	s.SetAll(true)
	assert.True(t, s.Expanded("Invoice"))

	s.Toggle("Payment")
	s.Reset([]string{"Payment"})
	assert.True(t, s.Expanded("Payment"))
}
