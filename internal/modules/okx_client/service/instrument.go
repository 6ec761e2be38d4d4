package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Instrument: параметры контракта SWAP, нужные для перевода размера в контракты.
type Instrument struct {
	InstID string
	LotSz  float64
	MinSz  float64
	CtVal  float64 // базовой валюты в одном контракте (с учётом ctMult)
}

type instrumentRow struct {
	InstID string `json:"instId"`
	State  string `json:"state"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
}

// Instrument берёт метаданные из кеша, при первом обращении: из /public/instruments.
func (c *Client) Instrument(ctx context.Context, instrument string) (Instrument, error) {
	instID := c.instID(instrument)

	c.metaMu.RLock()
	meta, ok := c.meta[instID]
	c.metaMu.RUnlock()
	if ok {
		return meta, nil
	}

	data, err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments?instType=SWAP&instId="+url.QueryEscape(instID), nil, false)
	if err != nil {
		return Instrument{}, err
	}
	var payload struct {
		envelope
		Data []instrumentRow `json:"data"`
	}
	if err := sonic.Unmarshal(data, &payload); err != nil {
		return Instrument{}, errors.Wrap(err, "decode instruments")
	}
	if payload.Code != "0" {
		return Instrument{}, errors.Errorf("okx error %s: %s", payload.Code, payload.Msg)
	}
	if len(payload.Data) == 0 {
		return Instrument{}, errors.Errorf("instrument %s not found", instID)
	}

	row := payload.Data[0]
	if row.State != "" && row.State != "live" {
		return Instrument{}, errors.Errorf("instrument %s not live: state=%s", instID, row.State)
	}

	parsePos := func(name, s string) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || v <= 0 {
			return 0, errors.Errorf("%s %s: bad value %q", instID, name, s)
		}
		return v, nil
	}
	if meta.LotSz, err = parsePos("lotSz", row.LotSz); err != nil {
		return Instrument{}, err
	}
	if meta.MinSz, err = parsePos("minSz", row.MinSz); err != nil {
		return Instrument{}, err
	}
	if meta.CtVal, err = parsePos("ctVal", row.CtVal); err != nil {
		return Instrument{}, err
	}
	if m, e := strconv.ParseFloat(row.CtMult, 64); e == nil && m > 0 {
		meta.CtVal *= m
	}
	meta.InstID = instID

	c.metaMu.Lock()
	c.meta[instID] = meta
	c.metaMu.Unlock()
	return meta, nil
}
