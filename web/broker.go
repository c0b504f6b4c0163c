package web

import "sync"

// broker fans feed snapshots out to websocket clients.
type broker struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
}

func newBroker() *broker {
	return &broker{
		clients: make(map[string]chan []byte),
	}
}

func (b *broker) register(id string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	client := make(chan []byte, 1)
	b.clients[id] = client
	return client
}

func (b *broker) unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if client, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(client)
	}
}

// broadcast replaces any snapshot a slow client has not read yet.
func (b *broker) broadcast(data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, client := range b.clients {
		select {
		case <-client:
		default:
		}
		select {
		case client <- data:
		default:
		}
	}
}

func (b *broker) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
