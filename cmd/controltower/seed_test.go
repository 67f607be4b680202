package main

import (
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCSVOrders(t *testing.T) {
	in := `order_date,product_id,order_qty,expected_delivery_date,status,ignored
2024-06-03,P1,10,20240610,R,x
20240604,P2,2.5,,C,y
`
	rows, err := decodeCSV[domain.DailyOrder](strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), rows[0].OrderDate)
	assert.Equal(t, "P1", rows[0].ProductID)
	assert.Equal(t, 10.0, rows[0].OrderQty)
	require.NotNil(t, rows[0].ExpectedDeliveryDate)
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), *rows[0].ExpectedDeliveryDate)
	assert.True(t, rows[0].IsOpen())

	assert.Equal(t, 2.5, rows[1].OrderQty)
	assert.Nil(t, rows[1].ExpectedDeliveryDate)
}

func TestDecodeCSVNullablePrice(t *testing.T) {
	in := "component_product_id,cd_partner,po_qty,unit_price,status\nC1,S1,100,,O\nC1,S1,50,9.5,F\n"
	rows, err := decodeCSV[domain.PurchaseOrder](strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].UnitPrice)
	require.NotNil(t, rows[1].UnitPrice)
	assert.Equal(t, 9.5, *rows[1].UnitPrice)
}

func TestDecodeCSVErrors(t *testing.T) {
	rows, err := decodeCSV[domain.BOMLine](strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = decodeCSV[domain.BOMLine](strings.NewReader("parent_product_id,usage_qty\nP,abc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2 column usage_qty")

	_, err = decodeCSV[domain.DailyProduction](strings.NewReader("production_date\n06/03/2024\n"))
	assert.Error(t, err)
}
