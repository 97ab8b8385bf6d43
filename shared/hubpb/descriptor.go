package hubpb

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
	protoreflect "google.golang.org/protobuf/reflect/protoreflect"
	protoimpl "google.golang.org/protobuf/runtime/protoimpl"
	"google.golang.org/protobuf/types/descriptorpb"
)

// File_hub_proto is the registered descriptor for hub.proto.
var File_hub_proto protoreflect.FileDescriptor

var hubMsgTypes = make([]protoimpl.MessageInfo, 20)

var hubGoTypes = []any{
	(*ServiceInfo)(nil),          // 0: hub.v1.ServiceInfo
	(*RegisterRequest)(nil),      // 1: hub.v1.RegisterRequest
	(*RegisterResponse)(nil),     // 2: hub.v1.RegisterResponse
	(*UnregisterRequest)(nil),    // 3: hub.v1.UnregisterRequest
	(*UnregisterResponse)(nil),   // 4: hub.v1.UnregisterResponse
	(*HeartbeatRequest)(nil),     // 5: hub.v1.HeartbeatRequest
	(*HeartbeatResponse)(nil),    // 6: hub.v1.HeartbeatResponse
	(*ListRequest)(nil),          // 7: hub.v1.ListRequest
	(*ListResponse)(nil),         // 8: hub.v1.ListResponse
	(*GetRequest)(nil),           // 9: hub.v1.GetRequest
	(*GetResponse)(nil),          // 10: hub.v1.GetResponse
	(*UpdateStatusRequest)(nil),  // 11: hub.v1.UpdateStatusRequest
	(*UpdateStatusResponse)(nil), // 12: hub.v1.UpdateStatusResponse
	(*CallServiceRequest)(nil),   // 13: hub.v1.CallServiceRequest
	(*CallServiceResponse)(nil),  // 14: hub.v1.CallServiceResponse
	(*SubscribeRequest)(nil),     // 15: hub.v1.SubscribeRequest
	(*ServiceEvent)(nil),         // 16: hub.v1.ServiceEvent
	nil,                          // 17: hub.v1.ServiceInfo.MetadataEntry
	nil,                          // 18: hub.v1.RegisterRequest.MetadataEntry
	nil,                          // 19: hub.v1.CallServiceRequest.HeadersEntry
}

var hubDepIdxs = []int32{
	17, // 0: hub.v1.ServiceInfo.metadata:type_name -> hub.v1.ServiceInfo.MetadataEntry
	18, // 1: hub.v1.RegisterRequest.metadata:type_name -> hub.v1.RegisterRequest.MetadataEntry
	0,  // 2: hub.v1.ListResponse.services:type_name -> hub.v1.ServiceInfo
	0,  // 3: hub.v1.GetResponse.service:type_name -> hub.v1.ServiceInfo
	19, // 4: hub.v1.CallServiceRequest.headers:type_name -> hub.v1.CallServiceRequest.HeadersEntry
	1,  // 5: hub.v1.Hub.Register:input_type -> hub.v1.RegisterRequest
	3,  // 6: hub.v1.Hub.Unregister:input_type -> hub.v1.UnregisterRequest
	5,  // 7: hub.v1.Hub.Heartbeat:input_type -> hub.v1.HeartbeatRequest
	7,  // 8: hub.v1.Hub.List:input_type -> hub.v1.ListRequest
	9,  // 9: hub.v1.Hub.Get:input_type -> hub.v1.GetRequest
	11, // 10: hub.v1.Hub.UpdateStatus:input_type -> hub.v1.UpdateStatusRequest
	13, // 11: hub.v1.Hub.CallService:input_type -> hub.v1.CallServiceRequest
	15, // 12: hub.v1.Hub.Subscribe:input_type -> hub.v1.SubscribeRequest
	2,  // 13: hub.v1.Hub.Register:output_type -> hub.v1.RegisterResponse
	4,  // 14: hub.v1.Hub.Unregister:output_type -> hub.v1.UnregisterResponse
	6,  // 15: hub.v1.Hub.Heartbeat:output_type -> hub.v1.HeartbeatResponse
	8,  // 16: hub.v1.Hub.List:output_type -> hub.v1.ListResponse
	10, // 17: hub.v1.Hub.Get:output_type -> hub.v1.GetResponse
	12, // 18: hub.v1.Hub.UpdateStatus:output_type -> hub.v1.UpdateStatusResponse
	14, // 19: hub.v1.Hub.CallService:output_type -> hub.v1.CallServiceResponse
	16, // 20: hub.v1.Hub.Subscribe:output_type -> hub.v1.ServiceEvent
	13, // [13:21] is the sub-list for method output_type
	5,  // [5:13] is the sub-list for method input_type
	5,  // [5:5] is the sub-list for extension type_name
	5,  // [5:5] is the sub-list for extension extendee
	0,  // [0:5] is the sub-list for field type_name
}

// Descriptor construction helpers. The shapes below must mirror hub.proto
// exactly; the builder panics at startup on any inconsistency, which keeps
// schema drift from going unnoticed.

func scalarField(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func stringField(name string, num int32) *descriptorpb.FieldDescriptorProto {
	return scalarField(name, num, descriptorpb.FieldDescriptorProto_TYPE_STRING)
}

func boolField(name string, num int32) *descriptorpb.FieldDescriptorProto {
	return scalarField(name, num, descriptorpb.FieldDescriptorProto_TYPE_BOOL)
}

func uint32Field(name string, num int32) *descriptorpb.FieldDescriptorProto {
	return scalarField(name, num, descriptorpb.FieldDescriptorProto_TYPE_UINT32)
}

func bytesField(name string, num int32) *descriptorpb.FieldDescriptorProto {
	return scalarField(name, num, descriptorpb.FieldDescriptorProto_TYPE_BYTES)
}

func repeatedStringField(name string, num int32) *descriptorpb.FieldDescriptorProto {
	f := stringField(name, num)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func messageField(name string, num int32, typeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(num),
		Label:    label.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(typeName),
	}
}

// stringMapEntry declares the synthetic map<string, string> entry message.
func stringMapEntry(name string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			stringField("key", 1),
			stringField("value", 2),
		},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	}
}

func method(name, input, output string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(input),
		OutputType: proto.String(output),
	}
}

func hubFileDescriptorProto() *descriptorpb.FileDescriptorProto {
	subscribe := method("Subscribe", ".hub.v1.SubscribeRequest", ".hub.v1.ServiceEvent")
	subscribe.ServerStreaming = proto.Bool(true)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("hub.proto"),
		Package: proto.String("hub.v1"),
		Syntax:  proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/grpchub-io/grpchub/shared/hubpb"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ServiceInfo"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("service_id", 1),
					stringField("service_name", 2),
					stringField("service_version", 3),
					stringField("service_address", 4),
					uint32Field("service_port", 5),
					repeatedStringField("methods", 6),
					messageField("metadata", 7, ".hub.v1.ServiceInfo.MetadataEntry", true),
					stringField("registered_at", 8),
					stringField("last_heartbeat", 9),
					stringField("status", 10),
				},
				NestedType: []*descriptorpb.DescriptorProto{stringMapEntry("MetadataEntry")},
			},
			{
				Name: proto.String("RegisterRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("service_name", 1),
					stringField("service_version", 2),
					stringField("service_address", 3),
					uint32Field("service_port", 4),
					repeatedStringField("methods", 5),
					messageField("metadata", 6, ".hub.v1.RegisterRequest.MetadataEntry", true),
				},
				NestedType: []*descriptorpb.DescriptorProto{stringMapEntry("MetadataEntry")},
			},
			{
				Name: proto.String("RegisterResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("success", 1),
					stringField("message", 2),
					stringField("service_id", 3),
				},
			},
			{
				Name:  proto.String("UnregisterRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("service_id", 1)},
			},
			{
				Name: proto.String("UnregisterResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("success", 1),
					stringField("message", 2),
				},
			},
			{
				Name:  proto.String("HeartbeatRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("service_id", 1)},
			},
			{
				Name: proto.String("HeartbeatResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("healthy", 1),
					stringField("message", 2),
				},
			},
			{
				Name:  proto.String("ListRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("filter", 1)},
			},
			{
				Name: proto.String("ListResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("services", 1, ".hub.v1.ServiceInfo", true),
				},
			},
			{
				Name:  proto.String("GetRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("service_id", 1)},
			},
			{
				Name: proto.String("GetResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("service", 1, ".hub.v1.ServiceInfo", false),
					boolField("found", 2),
				},
			},
			{
				Name: proto.String("UpdateStatusRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("service_id", 1),
					stringField("status", 2),
				},
			},
			{
				Name: proto.String("UpdateStatusResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("success", 1),
					stringField("message", 2),
				},
			},
			{
				Name: proto.String("CallServiceRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("service_name", 1),
					stringField("method_name", 2),
					bytesField("payload", 3),
					stringField("caller_id", 4),
					messageField("headers", 5, ".hub.v1.CallServiceRequest.HeadersEntry", true),
				},
				NestedType: []*descriptorpb.DescriptorProto{stringMapEntry("HeadersEntry")},
			},
			{
				Name: proto.String("CallServiceResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					boolField("success", 1),
					bytesField("payload", 2),
					stringField("error", 3),
				},
			},
			{
				Name:  proto.String("SubscribeRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{stringField("service_name", 1)},
			},
			{
				Name: proto.String("ServiceEvent"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("event_type", 1),
					stringField("service_name", 2),
					stringField("data", 3),
					stringField("timestamp", 4),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Hub"),
				Method: []*descriptorpb.MethodDescriptorProto{
					method("Register", ".hub.v1.RegisterRequest", ".hub.v1.RegisterResponse"),
					method("Unregister", ".hub.v1.UnregisterRequest", ".hub.v1.UnregisterResponse"),
					method("Heartbeat", ".hub.v1.HeartbeatRequest", ".hub.v1.HeartbeatResponse"),
					method("List", ".hub.v1.ListRequest", ".hub.v1.ListResponse"),
					method("Get", ".hub.v1.GetRequest", ".hub.v1.GetResponse"),
					method("UpdateStatus", ".hub.v1.UpdateStatusRequest", ".hub.v1.UpdateStatusResponse"),
					method("CallService", ".hub.v1.CallServiceRequest", ".hub.v1.CallServiceResponse"),
					subscribe,
				},
			},
		},
	}
}

func init() {
	raw, err := proto.Marshal(hubFileDescriptorProto())
	if err != nil {
		panic(fmt.Sprintf("hubpb: marshal file descriptor: %v", err))
	}
	type x struct{}
	out := protoimpl.TypeBuilder{
		File: protoimpl.DescBuilder{
			GoPackagePath: reflect.TypeOf(x{}).PkgPath(),
			RawDescriptor: raw,
			NumEnums:      0,
			NumMessages:   20,
			NumExtensions: 0,
			NumServices:   1,
		},
		GoTypes:           hubGoTypes,
		DependencyIndexes: hubDepIdxs,
		MessageInfos:      hubMsgTypes,
	}.Build()
	File_hub_proto = out.File
}
