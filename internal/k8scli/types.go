package k8scli

import "time"

// Meta carries the identifying fields shared by every resource record.
type Meta struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"creationTimestamp"`
}

// Pod is the parsed view of a kubectl pod object.
type Pod struct {
	Meta
	Phase    string
	NodeName string
	PodIP    string
	Ready    int
	Total    int
	Restarts int
}

// Deployment is the parsed view of a kubectl deployment object.
type Deployment struct {
	Meta
	Replicas      int
	ReadyReplicas int
}

// Service is the parsed view of a kubectl service object.
type Service struct {
	Meta
	Type      string
	ClusterIP string
}

// Node is the parsed view of a kubectl node object.
type Node struct {
	Meta
	Ready          bool
	KubeletVersion string
}

// rawObject mirrors the kubectl JSON layout. Field mapping to the typed
// records happens once at parse time.
type rawObject struct {
	Metadata Meta `json:"metadata"`
	Spec     struct {
		Replicas  int    `json:"replicas"`
		NodeName  string `json:"nodeName"`
		Type      string `json:"type"`
		ClusterIP string `json:"clusterIP"`
	} `json:"spec"`
	Status struct {
		Phase             string `json:"phase"`
		PodIP             string `json:"podIP"`
		ReadyReplicas     int    `json:"readyReplicas"`
		ContainerStatuses []struct {
			Ready        bool `json:"ready"`
			RestartCount int  `json:"restartCount"`
		} `json:"containerStatuses"`
		Conditions []struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"conditions"`
		NodeInfo struct {
			KubeletVersion string `json:"kubeletVersion"`
		} `json:"nodeInfo"`
	} `json:"status"`
}

// rawList is the kubectl `get -o json` envelope.
type rawList struct {
	Items []rawObject `json:"items"`
}

func (o *rawObject) toPod() Pod {
	p := Pod{
		Meta:     o.Metadata,
		Phase:    o.Status.Phase,
		NodeName: o.Spec.NodeName,
		PodIP:    o.Status.PodIP,
		Total:    len(o.Status.ContainerStatuses),
	}
	if p.Phase == "" {
		p.Phase = "unknown"
	}
	for _, cs := range o.Status.ContainerStatuses {
		if cs.Ready {
			p.Ready++
		}
		p.Restarts += cs.RestartCount
	}
	return p
}

func (o *rawObject) toDeployment() Deployment {
	return Deployment{
		Meta:          o.Metadata,
		Replicas:      o.Spec.Replicas,
		ReadyReplicas: o.Status.ReadyReplicas,
	}
}

func (o *rawObject) toService() Service {
	return Service{
		Meta:      o.Metadata,
		Type:      o.Spec.Type,
		ClusterIP: o.Spec.ClusterIP,
	}
}

func (o *rawObject) toNode() Node {
	n := Node{
		Meta:           o.Metadata,
		KubeletVersion: o.Status.NodeInfo.KubeletVersion,
	}
	for _, cond := range o.Status.Conditions {
		if cond.Type == "Ready" && cond.Status == "True" {
			n.Ready = true
		}
	}
	return n
}
