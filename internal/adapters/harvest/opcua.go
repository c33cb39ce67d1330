package harvest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

var _ ports.Harvester = (*OPCUA)(nil)

// OPCUAConfig captures the runtime details required to open an OPC UA
// session against an industrial controller.
type OPCUAConfig struct {
	Endpoint        string         `yaml:"endpoint"`
	Username        string         `yaml:"username"`
	Password        string         `yaml:"password"`
	SecurityMode    string         `yaml:"security_mode"`
	SecurityPolicy  string         `yaml:"security_policy"`
	PublishInterval ports.Duration `yaml:"publish_interval"`
	NodeIDs         []string       `yaml:"node_ids"`
}

func (c *OPCUAConfig) applyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = ports.Duration(250 * time.Millisecond)
	}
}

func (c *OPCUAConfig) validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.NodeIDs) == 0 {
		return errors.New("at least one node id must be configured")
	}
	return nil
}

// OPCUA harvests noise from industrial tag churn: measured values never sit
// exactly still, and neither do controller publish times. Each data change
// contributes the value's raw bit pattern plus the inter-arrival delta.
// Per-byte min entropy is tiny and must be claimed accordingly.
type OPCUA struct {
	id  string
	cfg OPCUAConfig

	mu      sync.Mutex
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	err     error
	seq     uint64
}

func NewOPCUA(id string, cfg OPCUAConfig) (*OPCUA, error) {
	if id == "" {
		id = "opcua"
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("harvest: opcua: %w", err)
	}
	return &OPCUA{id: id, cfg: cfg}, nil
}

func (o *OPCUA) ID() string { return o.id }

func (o *OPCUA) Start(out chan<- *domain.RawSample) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("harvest: %s already started", o.id)
	}
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	opts := []opcua.Option{
		opcua.SecurityModeString(o.cfg.SecurityMode),
		opcua.SecurityPolicy(o.cfg.SecurityPolicy),
		opcua.ApplicationName("ChaosMagnet"),
		opcua.AutoReconnect(true),
	}
	if o.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(o.cfg.Username, o.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(o.cfg.Endpoint, opts...)
	if err != nil {
		cancel()
		return fmt.Errorf("harvest: opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("harvest: opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(o.cfg.NodeIDs)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: o.cfg.PublishInterval.Std(),
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("harvest: opcua subscribe: %w", err)
	}

	for i, raw := range o.cfg.NodeIDs {
		nodeID, err := ua.ParseNodeID(raw)
		if err != nil {
			o.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("harvest: parse node id %q: %w", raw, err)
		}
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, uint32(i+1))
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			o.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("harvest: monitor node %q: %w", raw, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			o.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("harvest: monitor node %q rejected", raw)
		}
	}

	o.mu.Lock()
	o.client = client
	o.sub = sub
	o.cancel = cancel
	o.started = true
	o.err = nil
	o.mu.Unlock()

	o.wg.Add(1)
	go o.consume(ctx, notifyCh, out)
	return nil
}

func (o *OPCUA) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- *domain.RawSample) {
	defer o.wg.Done()

	var prevNanos int64
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil || notif.Error != nil {
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}

			for _, item := range data.MonitoredItems {
				payload := make([]byte, 0, 16)

				if fv, ok := variantToFloat(item.Value.Value); ok {
					var bits [8]byte
					binary.LittleEndian.PutUint64(bits[:], math.Float64bits(fv))
					payload = append(payload, bits[:]...)
				}

				nanos := time.Now().UnixNano()
				delta := nanos - prevNanos
				prevNanos = nanos
				payload = append(payload, byte(delta), byte(delta>>8), byte(delta>>16))

				o.mu.Lock()
				o.seq++
				seq := o.seq
				o.mu.Unlock()

				s := &domain.RawSample{
					SourceID:  o.id,
					Timestamp: time.Now(),
					Seq:       seq,
					Payload:   payload,
				}
				select {
				case <-ctx.Done():
					return
				case out <- s:
				default:
				}
			}
		}
	}
}

func (o *OPCUA) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *OPCUA) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.err = nil
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	sub := o.sub
	client := o.client
	o.started = false
	o.cancel = nil
	o.sub = nil
	o.client = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	o.wg.Wait()

	o.mu.Lock()
	o.err = nil
	o.mu.Unlock()
	return err
}

func (o *OPCUA) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
