package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"trader-go/bus"
	"trader-go/config"
	"trader-go/intent"
)

type intentBody struct {
	Ticker      string `json:"ticker"`
	Qty         int64  `json:"qty"`
	OrderType   string `json:"order_type"`
	LimitPrice  string `json:"limit_price,omitempty"`
	StopPrice   string `json:"stop_price,omitempty"`
	TimeInForce string `json:"time_in_force"`
	ID          string `json:"id"`
}

type envelope struct {
	Action string      `json:"action"`
	Intent *intentBody `json:"intent,omitempty"`
	ID     string      `json:"id,omitempty"`
}

// publish_intent 向交易指令 topic 发送一条 new/cancel 消息，用于联调
func main() {
	brokers := flag.String("brokers", bus.DefaultBroker, "Kafka broker 列表（逗号分隔）")
	topic := flag.String("topic", bus.DefaultTopic, "目标 topic")
	action := flag.String("action", "new", "new 或 cancel")
	ticker := flag.String("ticker", "AAPL", "标的代码")
	qty := flag.Int64("qty", 1, "数量，正数买入、负数卖出")
	orderType := flag.String("type", "market", "market | limit | stop | stop_limit")
	limit := flag.String("limit", "", "限价")
	stop := flag.String("stop", "", "止损触发价")
	tif := flag.String("tif", "day", "gtc | day | ioc | fok | opg | cls")
	id := flag.String("id", "", "意图/订单 id，new 时为空则自动生成")
	dryRun := flag.Bool("dryRun", false, "只打印消息，不发送")
	flag.Parse()

	env := envelope{Action: *action}
	switch *action {
	case "new":
		if *id == "" {
			*id = uuid.NewString()
		}
		env.Intent = &intentBody{
			Ticker:      *ticker,
			Qty:         *qty,
			OrderType:   *orderType,
			LimitPrice:  *limit,
			StopPrice:   *stop,
			TimeInForce: *tif,
			ID:          *id,
		}
	case "cancel":
		env.ID = *id
	default:
		log.Fatalf("未知 action: %s", *action)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		log.Fatalf("序列化失败: %v", err)
	}
	// 发送前用同一解码器校验，避免投递消费端会丢弃的消息
	if _, err := intent.Decode(payload); err != nil {
		log.Fatalf("消息不合法: %v", err)
	}

	if *dryRun {
		fmt.Println(string(payload))
		return
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(config.SplitList(*brokers)...),
		Topic:        *topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := []byte(*id)
	if err := w.WriteMessages(ctx, kafka.Message{Key: key, Value: payload}); err != nil {
		fmt.Fprintf(os.Stderr, "发送失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已发送到 %s: %s\n", *topic, payload)
}
