/*
Core implements the single-writer trading engine.

# Module
  - command queue: receives ticks, order requests and queries then hands them to the worker in arrival order
  - worker: single goroutine that owns every piece of mutable state
  - quote book: latest synthetic bid/ask per instrument
  - position ledger: positions and account balances
  - position monitor: re-evaluates open positions on every tick of their instrument
  - candle aggregator: multi-timeframe OHLCV buckets

# Source
 1. normalized ticks from the Binance feed (direct mode)
 2. normalized ticks from the Redis trade channel (subscriber mode)
 3. order and query requests from the HTTP API

# Produce
  - price updates and candles to the streaming hub
  - raw ticks to the persistence sink
  - position opened / closed events to the notification sink

# Per tick
 1. quote book update, price fan-out
 2. monitor sweep on that instrument
 3. candle update, candle fan-out
 4. raw tick to the persistence sink
*/
package core
